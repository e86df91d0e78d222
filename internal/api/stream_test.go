package api

import (
	"context"
	"fmt"
	"image/color"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/capture"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/metrics"
)

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) agent.Event {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var ev agent.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// readUntil collects events up to and including the first of type want.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want agent.EventType) []agent.Event {
	t.Helper()
	var seen []agent.Event
	for {
		ev := readEvent(t, ctx, conn)
		seen = append(seen, ev)
		if ev.Type == want {
			return seen
		}
	}
}

func typesOf(events []agent.Event) []agent.EventType {
	out := make([]agent.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestEventStreamFollowsARun(t *testing.T) {
	logger := zaptest.NewLogger(t)
	collector := metrics.NewCollector("test", logger)
	warm := color.RGBA{R: 170, G: 120, B: 90, A: 255}

	exec := &recordingExecutor{}
	runner := agent.NewRunner(logger, capture.NewStatic(solid(grey), solid(warm)), scriptedClient{}, exec, agent.NopSink{}, collector, config.RunnerConfig{})
	bus := agent.NewEventBus(logger, 64)
	ctrl := agent.NewController(logger, runner, exec, scriptedClient{}, collector, bus)

	cc, err := calibration.ParseControllerConfig([]byte(controllerConfigJSON))
	require.NoError(t, err)
	profile, err := calibration.FromControllerConfig(cc)
	require.NoError(t, err)
	ctrl.SetProfile(profile)

	srv := httptest.NewServer(NewServer(logger, ctrl, collector, testServerConfig(), "").Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, "/api/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	first := readEvent(t, ctx, conn)
	require.Equal(t, EventSnapshot, first.Type)
	snap, ok := first.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "IDLE", snap["state"])
	assert.Equal(t, true, snap["calibrated"])

	resp, err := srv.Client().Post(srv.URL+"/api/run", "application/json",
		strings.NewReader(fmt.Sprintf(`{"reference_path": %q}`, writePNG(t, solid(warm)))))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	events := readUntil(t, ctx, conn, agent.EventRunFinished)
	types := typesOf(events)
	assert.Contains(t, types, agent.EventThinking)
	assert.Contains(t, types, agent.EventRecommendation)
	assert.Contains(t, types, agent.EventIteration)
	assert.Equal(t, agent.EventStateChanged, types[0])

	finished, ok := events[len(events)-1].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, agent.ReasonCompleted, finished["reason"])
	assert.EqualValues(t, 1, finished["iteration"])

	_, err = ctrl.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, agent.StateReady, ctrl.State())
	assert.EqualValues(t, 1, exec.batches.Load())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestEventStreamFilter(t *testing.T) {
	h := newAPIHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.http.URL, "/api/events?types=log,run_finished"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Equal(t, EventSnapshot, readEvent(t, ctx, conn).Type)

	h.agent.bus.Publish(agent.Event{Type: agent.EventThinking})
	h.agent.bus.Publish(agent.Event{Type: agent.EventLog, Payload: "hello"})

	ev := readEvent(t, ctx, conn)
	assert.Equal(t, agent.EventLog, ev.Type)
	assert.Equal(t, "hello", ev.Payload)
	assert.NotEmpty(t, ev.ID)
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	h := newAPIHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(h.http.URL, "/api/events"), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEventStreamEndsWhenBusCloses(t *testing.T) {
	h := newAPIHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.http.URL, "/api/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	readEvent(t, ctx, conn)

	h.agent.bus.Close()
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestShutdownClosesStreams(t *testing.T) {
	srv := NewServer(zaptest.NewLogger(t), newMockAgent(), nil, testServerConfig(), "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	serveCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(serveCtx, ln) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+ln.Addr().String()+"/api/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	readEvent(t, ctx, conn)

	stop()
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.NoError(t, <-done)
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.Equal(t, []agent.EventType{agent.EventLog, agent.EventIteration}, parseTypes("log, ,iteration"))
}
