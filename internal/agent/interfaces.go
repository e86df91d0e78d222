package agent

import (
	"context"
	"time"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
)

// ModelClient is the subset of the protocol client the agent drives.
type ModelClient interface {
	RequestActions(ctx context.Context, rc llmclient.RequestContext) (*llmclient.Response, error)
	TestConnection(ctx context.Context) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// ActionExecutor is the subset of *executor.ActionExecutor the agent drives.
type ActionExecutor interface {
	Execute(ctx context.Context, iteration int, payloads []map[string]any, profile *calibration.Profile) (*executor.Result, error)
	UndoLast(ctx context.Context) error
	SetScreenshots(fn executor.ScreenshotFunc, sink executor.ScreenshotSink)
	Stop()
	IsStopped() bool
	SetPaused(bool)
	IsPaused() bool
	Reset()
}

// Recorder receives run instrumentation. *metrics.Collector implements it.
type Recorder interface {
	RecordTransition(from, to string)
	RecordIteration(overall float64, elapsed time.Duration)
	RecordAction(actionType, status string)
	RecordRun(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, string)        {}
func (nopRecorder) RecordIteration(float64, time.Duration) {}
func (nopRecorder) RecordAction(string, string)            {}
func (nopRecorder) RecordRun(string)                       {}

var _ ActionExecutor = (*executor.ActionExecutor)(nil)
var _ ModelClient = (*llmclient.Client)(nil)
