package llmclient

import (
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// fakeTimer fires immediately and records each requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *fakeTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

type observation struct {
	op, outcome string
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveLLMRequest(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{op, outcome})
}

func testConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Endpoint:       endpoint,
		Model:          "gpt-test",
		APIKey:         "sk-test",
		APITimeout:     5 * time.Second,
		PingTimeout:    2 * time.Second,
		Temperature:    0.2,
		MaxRetries:     2,
		MinConfidence:  0.3,
		MaxImageDim:    512,
		JPEGQuality:    70,
		BackoffInitial: time.Second,
		BackoffMax:     8 * time.Second,
	}
}

type harness struct {
	client   *Client
	timer    *fakeTimer
	observer *recordingObserver
	server   *httptest.Server
}

func newHarness(t *testing.T, h http.HandlerFunc, mutate ...func(*config.LLMConfig)) *harness {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL + "/v1/chat/completions")
	for _, m := range mutate {
		m(&cfg)
	}
	timer := &fakeTimer{}
	obs := &recordingObserver{}
	c, err := New(cfg, zaptest.NewLogger(t), WithTimer(timer), WithObserver(obs), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{client: c, timer: timer, observer: obs, server: srv}
}

// completion renders an OpenAI-style chat completion carrying content.
func completion(content string) []byte {
	out, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return out
}

func solid(c color.RGBA, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func ptr(f float64) *float64 { return &f }

func testProfile() *calibration.Profile {
	p := calibration.FromROI(calibration.ROI{X: 0, Y: 0, Width: 100, Height: 80}, 1920, 1080, nil)
	p.Targets["contrast"] = calibration.Point{X: 410, Y: 620}
	p.Targets["lift_master"] = calibration.Point{X: 120, Y: 300}
	p.ControlMetadata["contrast"] = calibration.ControlMeta{Type: "slider", Description: "contrast", Min: ptr(0), Max: ptr(2), Default: ptr(1)}
	p.ControlMetadata["lift_master"] = calibration.ControlMeta{Type: "wheel_component", Description: "lift master"}
	return p
}

func testRequest() RequestContext {
	return RequestContext{
		Reference:    solid(color.RGBA{200, 100, 50, 255}, 1024, 256),
		Current:      solid(color.RGBA{180, 110, 60, 255}, 64, 64),
		Metrics:      vision.Metrics{SSIM: 0.9, Histogram: 0.1, DeltaE: 5, Overall: 0.87},
		Profile:      testProfile(),
		CurrentState: map[string]float64{"contrast": 1},
	}
}
