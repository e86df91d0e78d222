package agent

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// mockClient records every RequestContext it receives.
type mockClient struct {
	mu       sync.Mutex
	requests []llmclient.RequestContext

	MockRequestActions func(ctx context.Context, rc llmclient.RequestContext) (*llmclient.Response, error)
	MockListModels     func(ctx context.Context) ([]string, error)
}

func (m *mockClient) RequestActions(ctx context.Context, rc llmclient.RequestContext) (*llmclient.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, rc)
	m.mu.Unlock()
	if m.MockRequestActions != nil {
		return m.MockRequestActions(ctx, rc)
	}
	return m.DefaultRequestActions(ctx, rc)
}

// DefaultRequestActions asks for one contrast change.
func (m *mockClient) DefaultRequestActions(ctx context.Context, _ llmclient.RequestContext) (*llmclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	act := map[string]any{"type": "set_slider", "target": "contrast", "value": 1.2, "reason": "flat"}
	return &llmclient.Response{
		Raw:        map[string]any{"summary": "raise contrast", "actions": []any{act}, "stop": false, "confidence": 0.9},
		Summary:    "raise contrast",
		Actions:    []map[string]any{act},
		Confidence: 0.9,
	}, nil
}

func (m *mockClient) TestConnection(ctx context.Context) (string, error) {
	return "pong", ctx.Err()
}

func (m *mockClient) ListModels(ctx context.Context) ([]string, error) {
	if m.MockListModels != nil {
		return m.MockListModels(ctx)
	}
	return []string{"gpt-4o-mini"}, nil
}

func (m *mockClient) Requests() []llmclient.RequestContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llmclient.RequestContext(nil), m.requests...)
}

// mockExecutor marks every parsed payload executed unless MockExecute overrides it.
type mockExecutor struct {
	mu      sync.Mutex
	batches [][]map[string]any
	undos   int
	resets  int

	stopped atomic.Bool
	paused  atomic.Bool

	screenshot executor.ScreenshotFunc
	sink       executor.ScreenshotSink

	MockExecute func(ctx context.Context, iteration int, payloads []map[string]any, profile *calibration.Profile) (*executor.Result, error)
	MockUndo    func(ctx context.Context) error
}

var _ ActionExecutor = (*mockExecutor)(nil)

func (m *mockExecutor) Execute(ctx context.Context, iteration int, payloads []map[string]any, profile *calibration.Profile) (*executor.Result, error) {
	m.mu.Lock()
	m.batches = append(m.batches, payloads)
	m.mu.Unlock()
	if m.MockExecute != nil {
		return m.MockExecute(ctx, iteration, payloads, profile)
	}
	return m.DefaultExecute(ctx, iteration, payloads, profile)
}

func (m *mockExecutor) DefaultExecute(_ context.Context, _ int, payloads []map[string]any, _ *calibration.Profile) (*executor.Result, error) {
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

func (m *mockExecutor) UndoLast(ctx context.Context) error {
	m.mu.Lock()
	m.undos++
	m.mu.Unlock()
	if m.MockUndo != nil {
		return m.MockUndo(ctx)
	}
	return nil
}

func (m *mockExecutor) SetScreenshots(fn executor.ScreenshotFunc, sink executor.ScreenshotSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenshot, m.sink = fn, sink
}

func (m *mockExecutor) Stop()            { m.stopped.Store(true) }
func (m *mockExecutor) IsStopped() bool  { return m.stopped.Load() }
func (m *mockExecutor) SetPaused(p bool) { m.paused.Store(p) }
func (m *mockExecutor) IsPaused() bool   { return m.paused.Load() }

func (m *mockExecutor) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	m.stopped.Store(false)
	m.paused.Store(false)
}

func (m *mockExecutor) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// recordingRecorder counts instrumentation calls.
type recordingRecorder struct {
	mu          sync.Mutex
	transitions []string
	iterations  int
	actions     []string
	runs        []string
}

func (r *recordingRecorder) RecordTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recordingRecorder) RecordIteration(float64, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
}

func (r *recordingRecorder) RecordAction(actionType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, actionType+":"+status)
}

func (r *recordingRecorder) RecordRun(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, reason)
}

func (r *recordingRecorder) Runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func (r *recordingRecorder) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

// recordingSink keeps every iteration index it is handed.
type recordingSink struct {
	mu         sync.Mutex
	sessions   int
	iterations []int
}

func (s *recordingSink) LogSessionInfo(map[string]any, *calibration.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
}

func (s *recordingSink) LogIteration(index int, _, _ image.Image, _ vision.Metrics, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = append(s.iterations, index)
}

func (s *recordingSink) LogActionScreenshot(int, int, string, image.Image, string) {}

func solid(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

const sampleControllerConfig = `{
  "sliders": {
    "contrast": {"x": "410", "y": "620", "min": 0, "max": 2, "defaultValue": 1},
    "saturation": {"x": "500", "y": "620", "min": 0, "max": 100, "defaultValue": 50}
  },
  "wheels": {
    "lift": {"master": {"x": 120, "y": 300, "min": -1, "max": 1, "defaultValue": 0}}
  },
  "ROICoordinates": {"left_top": "0,0", "right_bottom": "64,48"}
}`

func testProfile() *calibration.Profile {
	cc, err := calibration.ParseControllerConfig([]byte(sampleControllerConfig))
	if err != nil {
		panic(err)
	}
	p, err := calibration.FromControllerConfig(cc)
	if err != nil {
		panic(err)
	}
	return p
}
