package humanoid

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
)

// mockExecutor records everything the humanoid dispatches. Mock* overrides
// replace the default behaviour and may call the Default* methods. Overrides
// must not touch the Humanoid, which holds its mutex while calling them.
type mockExecutor struct {
	mu             sync.Mutex
	mouseEvents    []schemas.MouseEventData
	mouseCtxErrs   []error
	structuredKeys []schemas.KeyEventData
	sentKeys       []string
	sleeps         []time.Duration

	MockSleep                 func(ctx context.Context, d time.Duration) error
	MockDispatchMouseEvent    func(ctx context.Context, data schemas.MouseEventData) error
	MockDispatchStructuredKey func(ctx context.Context, data schemas.KeyEventData) error
	MockSendKeys              func(ctx context.Context, keys string) error
}

func newMockExecutor() *mockExecutor { return &mockExecutor{} }

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	return m.DefaultSleep(ctx, d)
}

func (m *mockExecutor) DefaultSleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, d)
	return nil
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if m.MockDispatchMouseEvent != nil {
		return m.MockDispatchMouseEvent(ctx, data)
	}
	return m.DefaultDispatchMouseEvent(ctx, data)
}

// DefaultDispatchMouseEvent records the event before checking ctx so cleanup
// releases are always visible to the test.
func (m *mockExecutor) DefaultDispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	m.mu.Lock()
	m.mouseEvents = append(m.mouseEvents, data)
	m.mouseCtxErrs = append(m.mouseCtxErrs, ctx.Err())
	m.mu.Unlock()
	return ctx.Err()
}

func (m *mockExecutor) DispatchStructuredKey(ctx context.Context, data schemas.KeyEventData) error {
	if m.MockDispatchStructuredKey != nil {
		return m.MockDispatchStructuredKey(ctx, data)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredKeys = append(m.structuredKeys, data)
	return nil
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	if m.MockSendKeys != nil {
		return m.MockSendKeys(ctx, keys)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentKeys = append(m.sentKeys, keys)
	return nil
}

func (m *mockExecutor) events() []schemas.MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.MouseEventData(nil), m.mouseEvents...)
}

func (m *mockExecutor) eventsOfType(t schemas.MouseEventType) []schemas.MouseEventData {
	var out []schemas.MouseEventData
	for _, e := range m.events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockExecutor) totalSleep() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total time.Duration
	for _, d := range m.sleeps {
		total += d
	}
	return total
}
