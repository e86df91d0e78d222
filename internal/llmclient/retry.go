package llmclient

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy is a backoff.BackOff producing min(initial·2^n, max). A
// Retry-After hint or an immediate retry overrides the next interval once.
type retryPolicy struct {
	initial time.Duration
	max     time.Duration
	n       int

	override *time.Duration
}

var _ backoff.BackOff = (*retryPolicy)(nil)

func newRetryPolicy(initial, max time.Duration) *retryPolicy {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &retryPolicy{initial: initial, max: max}
}

func (p *retryPolicy) NextBackOff() time.Duration {
	defer func() { p.n++ }()
	if p.override != nil {
		d := *p.override
		p.override = nil
		return d
	}
	d := p.initial
	for i := 0; i < p.n && d < p.max; i++ {
		d *= 2
	}
	return min(d, p.max)
}

func (p *retryPolicy) Reset() {
	p.n = 0
	p.override = nil
}

// waitNext forces the next interval to d.
func (p *retryPolicy) waitNext(d time.Duration) {
	p.override = &d
}
