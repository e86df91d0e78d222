package agent

import "errors"

var (
	// ErrTaskActive is returned by Start while a previous task is still running.
	ErrTaskActive = errors.New("agent: a task is already running")
	// ErrNoReference is returned when a run has neither a reference image nor a path.
	ErrNoReference = errors.New("agent: reference image is required")
)
