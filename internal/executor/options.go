package executor

import (
	"time"

	"github.com/xkilldash9x/resolve-agent/internal/config"
)

// Options controls failure policy and pacing.
type Options struct {
	FailFast          bool
	RollbackOnFail    bool
	InterActionDelay  time.Duration
	PausePollInterval time.Duration
	DragDuration      time.Duration
	// FinalSettleMin and FinalSettleMax bound the random wait after the last action.
	FinalSettleMin time.Duration
	FinalSettleMax time.Duration
	UndoGap        time.Duration
}

// DefaultOptions returns the safety-first defaults.
func DefaultOptions() Options {
	return Options{
		FailFast:          true,
		RollbackOnFail:    true,
		InterActionDelay:  100 * time.Millisecond,
		PausePollInterval: 50 * time.Millisecond,
		DragDuration:      300 * time.Millisecond,
		FinalSettleMin:    40 * time.Millisecond,
		FinalSettleMax:    90 * time.Millisecond,
		UndoGap:           50 * time.Millisecond,
	}
}

// OptionsFromConfig maps the executor config section onto Options.
func OptionsFromConfig(cfg config.ExecutorConfig) Options {
	o := DefaultOptions()
	o.FailFast = cfg.FailFast
	o.RollbackOnFail = cfg.RollbackOnFail
	if cfg.InterActionDelay > 0 {
		o.InterActionDelay = cfg.InterActionDelay
	}
	if cfg.PausePollInterval > 0 {
		o.PausePollInterval = cfg.PausePollInterval
	}
	if cfg.DragDuration > 0 {
		o.DragDuration = cfg.DragDuration
	}
	return o
}
