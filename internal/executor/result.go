package executor

import "github.com/xkilldash9x/resolve-agent/internal/action"

// Status is the per-action outcome.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"

	// StatusRolledBack marks an action that ran and was then undone.
	StatusRolledBack Status = "rolled_back"
)

// Outcome records what happened to one payload in a batch. Action is nil
// when the payload could not be parsed.
type Outcome struct {
	Index  int
	Action action.Action
	Status Status
	Err    error
}

// Result is the outcome of a batch.
type Result struct {
	Outcomes []Outcome
	// RolledBack is the number of undo steps sent after a failure.
	RolledBack int
}

// Executed returns the actions that ran successfully, in order.
func (r *Result) Executed() []action.Action {
	var out []action.Action
	for _, o := range r.Outcomes {
		if o.Status == StatusExecuted {
			out = append(out, o.Action)
		}
	}
	return out
}

// Count returns how many outcomes have status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

func (r *Result) markRolledBack(n int) {
	for i := len(r.Outcomes) - 1; i >= 0 && n > 0; i-- {
		if r.Outcomes[i].Status == StatusExecuted {
			r.Outcomes[i].Status = StatusRolledBack
			n--
		}
	}
}
