package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Task is a run executing on its own goroutine.
type Task struct {
	ID     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	result    RunResult
	finished  bool
	callbacks []func(RunResult)
}

func newTask(cancel context.CancelFunc) *Task {
	return &Task{ID: uuid.New(), cancel: cancel, done: make(chan struct{})}
}

// Done is closed once the run has finished and callbacks have been invoked.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel asks the run to stop. It does not wait.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the run finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-t.done:
		return t.Result(), nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// Result returns the final result, or the zero value while running.
func (t *Task) Result() RunResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// OnComplete registers fn to run with the final result. If the task has
// already finished fn runs immediately on the caller's goroutine.
func (t *Task) OnComplete(fn func(RunResult)) {
	t.mu.Lock()
	if !t.finished {
		t.callbacks = append(t.callbacks, fn)
		t.mu.Unlock()
		return
	}
	res := t.result
	t.mu.Unlock()
	fn(res)
}

func (t *Task) finish(res RunResult) {
	t.mu.Lock()
	t.result = res
	t.finished = true
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(res)
	}
	t.cancel()
	close(t.done)
}
