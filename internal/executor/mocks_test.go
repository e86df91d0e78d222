package executor

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/resolve-agent/internal/humanoid"
)

// mockInput records gestures as short strings, e.g. "hotkey ctrl+z".
type mockInput struct {
	mu    sync.Mutex
	calls []string

	MockHotkey func(ctx context.Context, keys ...string) error
	MockDrag   func(ctx context.Context, from humanoid.Vector2D, dx, dy float64, d time.Duration) error
}

var _ humanoid.Controller = (*mockInput)(nil)

func (m *mockInput) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockInput) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Gestures returns every call except pauses.
func (m *mockInput) Gestures() []string {
	var out []string
	for _, c := range m.Calls() {
		if !strings.HasPrefix(c, "pause") {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockInput) MoveTo(ctx context.Context, t humanoid.Vector2D) error {
	m.record("move %v,%v", t.X, t.Y)
	return ctx.Err()
}

func (m *mockInput) Click(ctx context.Context, t humanoid.Vector2D) error {
	m.record("click %v,%v", t.X, t.Y)
	return ctx.Err()
}

func (m *mockInput) DoubleClick(ctx context.Context, t humanoid.Vector2D) error {
	m.record("dblclick %v,%v", t.X, t.Y)
	return ctx.Err()
}

func (m *mockInput) Drag(ctx context.Context, from humanoid.Vector2D, dx, dy float64, d time.Duration) error {
	if m.MockDrag != nil {
		return m.MockDrag(ctx, from, dx, dy, d)
	}
	return m.DefaultDrag(ctx, from, dx, dy, d)
}

func (m *mockInput) DefaultDrag(ctx context.Context, from humanoid.Vector2D, dx, dy float64, d time.Duration) error {
	m.record("drag %v,%v by %v,%v over %v", from.X, from.Y, dx, dy, d)
	return ctx.Err()
}

func (m *mockInput) Hotkey(ctx context.Context, keys ...string) error {
	if m.MockHotkey != nil {
		return m.MockHotkey(ctx, keys...)
	}
	return m.DefaultHotkey(ctx, keys...)
}

func (m *mockInput) DefaultHotkey(ctx context.Context, keys ...string) error {
	m.record("hotkey %s", strings.Join(keys, "+"))
	return ctx.Err()
}

func (m *mockInput) Type(ctx context.Context, text string) error {
	m.record("type %s", text)
	return ctx.Err()
}

func (m *mockInput) Pause(ctx context.Context, d time.Duration) error {
	m.record("pause %v", d)
	return ctx.Err()
}

// mockFocus reports a fixed focus state unless overridden.
type mockFocus struct {
	mu         sync.Mutex
	focused    bool
	tryResult  bool
	tryCalls   int
	checkCalls int

	MockHasFocus func(ctx context.Context) (bool, error)
}

func (f *mockFocus) HasFocus(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.checkCalls++
	override := f.MockHasFocus
	focused := f.focused
	f.mu.Unlock()
	if override != nil {
		return override(ctx)
	}
	return focused, nil
}

func (f *mockFocus) TryFocus(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tryCalls++
	if f.tryResult {
		f.focused = true
	}
	return f.tryResult, nil
}

type mockHotkeys struct {
	onStop  func()
	started bool
	closed  bool

	// muted counts open Mute calls; mutes counts all of them.
	muted, mutes int
}

func (h *mockHotkeys) Mute() func() {
	h.muted++
	h.mutes++
	return func() { h.muted-- }
}

func (h *mockHotkeys) Start(onStop func()) error {
	h.onStop = onStop
	h.started = true
	return nil
}

func (h *mockHotkeys) Close() error {
	h.closed = true
	return nil
}

type shot struct {
	iteration, index int
	kind, phase      string
}

type recordingSink struct {
	mu    sync.Mutex
	shots []shot
}

func (s *recordingSink) LogActionScreenshot(iteration, idx int, kind string, _ image.Image, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = append(s.shots, shot{iteration, idx, kind, phase})
}
