package api

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
)

// mockAgent answers every call from Mock* overrides or fixed defaults.
type mockAgent struct {
	mu      sync.Mutex
	state   agent.State
	profile *calibration.Profile
	stops   int
	starts  []agent.RunOptions
	bus     *agent.EventBus

	MockStart    func(ctx context.Context, opts agent.RunOptions) (*agent.Task, error)
	MockPause    func() error
	MockRollback func(ctx context.Context) error
	MockModels   func(ctx context.Context) ([]string, error)
}

var _ Agent = (*mockAgent)(nil)

func newMockAgent() *mockAgent {
	return &mockAgent{state: agent.StateIdle, bus: agent.NewEventBus(nil, 8)}
}

func (m *mockAgent) Snapshot() agent.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return agent.Status{State: m.state, CurrentState: map[string]float64{}, Calibrated: m.profile != nil}
}

func (m *mockAgent) Start(ctx context.Context, opts agent.RunOptions) (*agent.Task, error) {
	m.mu.Lock()
	m.starts = append(m.starts, opts)
	m.mu.Unlock()
	if m.MockStart != nil {
		return m.MockStart(ctx, opts)
	}
	m.mu.Lock()
	m.state = agent.StateRunning
	m.mu.Unlock()
	return &agent.Task{ID: uuid.New()}, nil
}

func (m *mockAgent) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.state = agent.StateStopped
}

func (m *mockAgent) Pause() error {
	if m.MockPause != nil {
		return m.MockPause()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = agent.StatePaused
	return nil
}

func (m *mockAgent) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = agent.StateRunning
	return nil
}

func (m *mockAgent) Rollback(ctx context.Context) error {
	if m.MockRollback != nil {
		return m.MockRollback(ctx)
	}
	return nil
}

func (m *mockAgent) TestConnection(ctx context.Context) (string, error) { return "pong", ctx.Err() }

func (m *mockAgent) ListModels(ctx context.Context) ([]string, error) {
	if m.MockModels != nil {
		return m.MockModels(ctx)
	}
	return []string{"gpt-4o", "gpt-4o-mini"}, nil
}

func (m *mockAgent) Profile() *calibration.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.Clone()
}

// Calibrate mirrors the controller: on success the profile is replaced.
func (m *mockAgent) Calibrate(fn func() (*calibration.Profile, error)) error {
	p, err := fn()
	if err != nil {
		return calibration.Failed(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
	m.state = agent.StateReady
	return nil
}

func (m *mockAgent) Bus() *agent.EventBus { return m.bus }

func (m *mockAgent) Starts() []agent.RunOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]agent.RunOptions(nil), m.starts...)
}

// scriptedClient asks for one contrast change on every request.
type scriptedClient struct{}

func (scriptedClient) RequestActions(ctx context.Context, _ llmclient.RequestContext) (*llmclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	act := map[string]any{"type": "set_slider", "target": "contrast", "value": 1.3}
	return &llmclient.Response{
		Raw:        map[string]any{"summary": "lift contrast", "actions": []any{act}},
		Summary:    "lift contrast",
		Actions:    []map[string]any{act},
		Confidence: 0.9,
	}, nil
}

func (scriptedClient) TestConnection(context.Context) (string, error) { return "pong", nil }
func (scriptedClient) ListModels(context.Context) ([]string, error)   { return []string{"gpt-4o-mini"}, nil }

// recordingExecutor marks every parsed payload executed.
type recordingExecutor struct {
	stopped atomic.Bool
	paused  atomic.Bool
	batches atomic.Int32
}

func (e *recordingExecutor) Execute(_ context.Context, _ int, payloads []map[string]any, _ *calibration.Profile) (*executor.Result, error) {
	e.batches.Add(1)
	res := &executor.Result{}
	for i, p := range payloads {
		a, _, err := action.Parse(p)
		status := executor.StatusExecuted
		if err != nil {
			status = executor.StatusFailed
		}
		res.Outcomes = append(res.Outcomes, executor.Outcome{Index: i, Action: a, Status: status, Err: err})
	}
	return res, nil
}

func (e *recordingExecutor) UndoLast(context.Context) error                                  { return nil }
func (e *recordingExecutor) SetScreenshots(executor.ScreenshotFunc, executor.ScreenshotSink) {}
func (e *recordingExecutor) Stop()                                                           { e.stopped.Store(true) }
func (e *recordingExecutor) IsStopped() bool                                                 { return e.stopped.Load() }
func (e *recordingExecutor) SetPaused(p bool)                                                { e.paused.Store(p) }
func (e *recordingExecutor) IsPaused() bool                                                  { return e.paused.Load() }

func (e *recordingExecutor) Reset() {
	e.stopped.Store(false)
	e.paused.Store(false)
}

const controllerConfigJSON = `{
  "sliders": {
    "contrast": {"x": "30", "y": "40", "min": 0, "max": 2, "defaultValue": 1}
  },
  "ROICoordinates": {"left_top": "0,0", "right_bottom": "16,16"}
}`

var grey = color.RGBA{R: 128, G: 128, B: 128, A: 255}

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// writePNG stores img in a temp dir and returns its path.
func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}
