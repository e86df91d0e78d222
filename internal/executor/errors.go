package executor

import "errors"

var (
	// ErrFocusLost means the controlled window could not be focused. The
	// executor pauses itself when it returns this.
	ErrFocusLost = errors.New("target window does not have input focus")
	// ErrStopped means the stop flag was raised before or during the batch.
	ErrStopped = errors.New("executor stopped")
)
