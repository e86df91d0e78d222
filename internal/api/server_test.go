package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
	"github.com/xkilldash9x/resolve-agent/internal/metrics"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:           "127.0.0.1:0",
		ReadTimeout:    5 * time.Second,
		AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
	}
}

type apiHarness struct {
	agent   *mockAgent
	metrics *metrics.Collector
	server  *Server
	http    *httptest.Server
	calPath string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	h := &apiHarness{
		agent:   newMockAgent(),
		metrics: metrics.NewCollector("test", zaptest.NewLogger(t)),
		calPath: filepath.Join(t.TempDir(), "controllerConfig.json"),
	}
	h.server = NewServer(zaptest.NewLogger(t), h.agent, h.metrics, testServerConfig(), h.calPath)
	h.http = httptest.NewServer(h.server.Handler())
	t.Cleanup(h.http.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.http.URL+path, r)
	require.NoError(t, err)
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestStateEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	st := decode[agent.Status](t, body)
	assert.Equal(t, agent.StateIdle, st.State)
	assert.False(t, st.Calibrated)
}

func TestRunEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	ref := writePNG(t, solid(grey))

	resp, body := h.do(t, http.MethodPost, "/api/run",
		fmt.Sprintf(`{"reference_path": %q, "instructions": "warmer", "continuous": true, "max_iterations": 4}`, ref))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	out := decode[runResponse](t, body)
	assert.NotEmpty(t, out.TaskID)
	assert.Equal(t, agent.StateRunning, out.State)

	starts := h.agent.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, ref, starts[0].ReferencePath)
	assert.NotNil(t, starts[0].Reference, "the reference is loaded before the run starts")
	assert.Equal(t, "warmer", starts[0].Instructions)
	assert.True(t, starts[0].Continuous)
	assert.Equal(t, 4, starts[0].MaxIterations)
}

func TestRunValidation(t *testing.T) {
	h := newAPIHarness(t)
	ref := writePNG(t, solid(grey))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"reference_path":`, "decode body"},
		{"missing reference", `{}`, "reference image is required"},
		{"negative bound", fmt.Sprintf(`{"reference_path": %q, "max_iterations": -1}`, ref), "max_iterations"},
		{"unreadable reference", `{"reference_path": "/does/not/exist.png"}`, "exist.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodPost, "/api/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decode[errorBody](t, body).Error, tt.want)
		})
	}
	assert.Empty(t, h.agent.Starts())
}

func TestRunConflict(t *testing.T) {
	h := newAPIHarness(t)
	h.agent.MockStart = func(context.Context, agent.RunOptions) (*agent.Task, error) {
		return nil, agent.ErrTaskActive
	}
	resp, body := h.do(t, http.MethodPost, "/api/run", fmt.Sprintf(`{"reference_path": %q}`, writePNG(t, solid(grey))))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, agent.ErrTaskActive.Error(), decode[errorBody](t, body).Error)
}

func TestRunControlEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, agent.StatePaused, decode[stateResponse](t, body).State)

	resp, body = h.do(t, http.MethodPost, "/api/resume", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, agent.StateRunning, decode[stateResponse](t, body).State)

	resp, body = h.do(t, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, agent.StateStopped, decode[stateResponse](t, body).State)
	h.agent.mu.Lock()
	assert.Equal(t, 1, h.agent.stops)
	h.agent.mu.Unlock()

	resp, _ = h.do(t, http.MethodPost, "/api/rollback", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPauseRefused(t *testing.T) {
	h := newAPIHarness(t)
	h.agent.MockPause = func() error {
		return &agent.InvalidTransitionError{From: agent.StateIdle, To: agent.StatePaused}
	}
	resp, body := h.do(t, http.MethodPost, "/api/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid transition: IDLE -> PAUSED", decode[errorBody](t, body).Error)
}

func TestRollbackFocusLost(t *testing.T) {
	h := newAPIHarness(t)
	h.agent.MockRollback = func(context.Context) error { return executor.ErrFocusLost }
	resp, _ := h.do(t, http.MethodPost, "/api/rollback", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestModelEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, decode[modelsResponse](t, body).Models)

	resp, body = h.do(t, http.MethodPost, "/api/ping", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", decode[pingResponse](t, body).Reply)

	h.agent.MockModels = func(context.Context) ([]string, error) {
		return nil, &llmclient.RateLimitError{Attempts: 3}
	}
	resp, _ = h.do(t, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	h.agent.MockModels = func(context.Context) ([]string, error) { return nil, nil }
	resp, body = h.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"models":[]}`, string(body))
}

func TestCalibrationEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/api/calibration/", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/calibration/reload", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, body).Error, "E104")
	assert.Contains(t, decode[errorBody](t, body).Error, "E103")

	resp, body = h.do(t, http.MethodPut, "/api/calibration/roi", `{"x": 0, "y": 0, "width": 1, "height": 30}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, body).Error, "E101")

	resp, body = h.do(t, http.MethodPut, "/api/calibration/roi", `{"x": 10, "y": 20, "width": 100, "height": 50}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	_, err := os.Stat(h.calPath)
	require.NoError(t, err, "the controller config is written")

	var p calibration.Profile
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, calibration.ROI{X: 10, Y: 20, Width: 100, Height: 50}, p.ROI)
	assert.Equal(t, calibration.Point{X: 60, Y: 45}, p.Targets[calibration.CenterTarget])

	require.NoError(t, os.WriteFile(h.calPath, []byte(controllerConfigJSON), 0o644))
	resp, body = h.do(t, http.MethodPost, "/api/calibration/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &p))
	assert.True(t, p.HasTarget("contrast"))

	resp, _ = h.do(t, http.MethodGet, "/api/calibration/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	h := newAPIHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.http.URL+"/api/state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = h.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	pre, err := http.NewRequest(http.MethodOptions, h.http.URL+"/api/run", nil)
	require.NoError(t, err)
	pre.Header.Set("Origin", "http://127.0.0.1:3000")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = h.http.Client().Do(pre)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestOriginAllowed(t *testing.T) {
	patterns := []string{"localhost:*", "127.0.0.1:*", "grade.example.com"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"http://LOCALHOST:3000", true},
		{"http://127.0.0.1:1", true},
		{"https://grade.example.com", true},
		{"https://grade.example.com:8443", false},
		{"http://localhost", false},
		{"", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(tt.origin, patterns), tt.origin)
	}
	assert.True(t, originAllowed("http://anything.test", []string{"*"}))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newAPIHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h.do(t, http.MethodGet, "/api/state", "")
	h.do(t, http.MethodGet, "/nope", "")

	resp, body := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `test_http_requests_total{method="GET",route="/api/state",status="200"} 1`)
	assert.Contains(t, text, `route="unmatched",status="404"`)
}

func TestMetricsNotMountedWithoutCollector(t *testing.T) {
	srv := NewServer(zaptest.NewLogger(t), newMockAgent(), nil, testServerConfig(), "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"task active", fmt.Errorf("start: %w", agent.ErrTaskActive), http.StatusConflict},
		{"transition", &agent.InvalidTransitionError{From: agent.StateIdle, To: agent.StateRunning}, http.StatusConflict},
		{"roi", calibration.Failed(calibration.ErrROITooSmall), http.StatusBadRequest},
		{"no reference", agent.ErrNoReference, http.StatusBadRequest},
		{"config missing", calibration.Failed(calibration.ErrControllerConfigMissing), http.StatusNotFound},
		{"rate limited", &llmclient.RateLimitError{Attempts: 3}, http.StatusTooManyRequests},
		{"upstream", &llmclient.HTTPError{StatusCode: 500}, http.StatusBadGateway},
		{"invalid response", fmt.Errorf("%w: bad json", llmclient.ErrInvalidResponse), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestServeShutsDown(t *testing.T) {
	srv := NewServer(zaptest.NewLogger(t), newMockAgent(), nil, testServerConfig(), "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestListenAndServeBadAddress(t *testing.T) {
	cfg := testServerConfig()
	cfg.Addr = "256.0.0.1:http"
	srv := NewServer(zaptest.NewLogger(t), newMockAgent(), nil, cfg, "")
	err := srv.ListenAndServe(context.Background())
	assert.ErrorContains(t, err, "api: listen on")
}
