package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/resolve-agent/internal/executor"
)

const (
	focusPoll   = 20 * time.Millisecond
	focusSettle = 50 * time.Millisecond
)

// Focus reports whether the tab holds keyboard focus and shows the expected
// title, and can bring the tab to the front.
type Focus struct {
	logger  *zap.Logger
	title   string
	timeout time.Duration

	hasFocus func(ctx context.Context) (bool, error)
	docTitle func(ctx context.Context) (string, error)
	raise    func(ctx context.Context) error
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ executor.FocusPort = (*Focus)(nil)

func newFocus(logger *zap.Logger, run runFunc, title string, timeout time.Duration) *Focus {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Focus{
		logger:  logger.Named("focus"),
		title:   title,
		timeout: timeout,
		hasFocus: func(ctx context.Context) (bool, error) {
			var focused bool
			err := run(ctx, chromedp.Evaluate(`document.hasFocus()`, &focused))
			return focused, err
		},
		docTitle: func(ctx context.Context) (string, error) {
			var t string
			err := run(ctx, chromedp.Title(&t))
			return t, err
		},
		raise: func(ctx context.Context) error {
			return run(ctx, page.BringToFront())
		},
		sleep: sleepCtx,
	}
}

// HasFocus checks document focus and the title together.
func (f *Focus) HasFocus(ctx context.Context) (bool, error) {
	var focused bool
	var title string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		focused, err = f.hasFocus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		title, err = f.docTitle(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, fmt.Errorf("browser: focus check: %w", err)
	}
	return focused && titleMatches(title, f.title), nil
}

// TryFocus raises the tab and polls until it reports focus or the timeout
// passes. A successful raise is followed by a short settle.
func (f *Focus) TryFocus(ctx context.Context) (bool, error) {
	if err := f.raise(ctx); err != nil {
		return false, fmt.Errorf("browser: bring to front: %w", err)
	}
	deadline := time.Now().Add(f.timeout)
	for {
		ok, err := f.HasFocus(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, f.sleep(ctx, focusSettle)
		}
		if time.Now().After(deadline) {
			f.logger.Warn("Window did not take focus.", zap.String("title", f.title), zap.Duration("timeout", f.timeout))
			return false, nil
		}
		if err := f.sleep(ctx, focusPoll); err != nil {
			return false, err
		}
	}
}

// titleMatches is a case-insensitive substring test. An empty want matches anything.
func titleMatches(title, want string) bool {
	if want == "" {
		return true
	}
	return strings.Contains(strings.ToLower(title), strings.ToLower(want))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
