package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// Status is a point-in-time view of the controller.
type Status struct {
	State        State              `json:"state"`
	Running      bool               `json:"running"`
	Paused       bool               `json:"paused"`
	TaskID       string             `json:"task_id,omitempty"`
	Iteration    int                `json:"iteration"`
	Metrics      *vision.Metrics    `json:"metrics,omitempty"`
	CurrentState map[string]float64 `json:"current_state"`
	Calibrated   bool               `json:"calibrated"`
	LastReason   string             `json:"last_reason,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
}

// Controller owns the state machine, the runner, the executor and the model
// client. It is the single entry point for the CLI and the control API.
type Controller struct {
	logger   *zap.Logger
	machine  *StateMachine
	runner   *Runner
	exec     ActionExecutor
	client   ModelClient
	recorder Recorder
	bus      *EventBus

	mu        sync.Mutex
	task      *Task
	profile   *calibration.Profile
	state     map[string]float64
	iteration int
	metrics   *vision.Metrics
	last      RunResult
}

// NewController wires the components together. A nil recorder is replaced
// with a no-op and a nil bus with a private one.
func NewController(logger *zap.Logger, runner *Runner, exec ActionExecutor, client ModelClient, recorder Recorder, bus *EventBus) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if bus == nil {
		bus = NewEventBus(logger, 0)
	}
	c := &Controller{
		logger:   logger.Named("controller"),
		machine:  NewStateMachine(),
		runner:   runner,
		exec:     exec,
		client:   client,
		recorder: recorder,
		bus:      bus,
		state:    map[string]float64{},
	}
	c.machine.OnTransition(func(from, to State) {
		c.logger.Info("State changed.", zap.String("from", string(from)), zap.String("to", string(to)))
		c.recorder.RecordTransition(string(from), string(to))
		c.bus.Publish(Event{Type: EventStateChanged, Payload: StateChange{From: from, To: to}})
	})
	exec.SetScreenshots(c.screenshot, runner.sink)
	return c
}

// Bus returns the event bus the controller publishes to.
func (c *Controller) Bus() *EventBus { return c.bus }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.machine.Current() }

// Start launches a run on its own goroutine. The run is not tied to ctx's
// cancellation; use Task.Cancel or Stop.
func (c *Controller) Start(ctx context.Context, opts RunOptions) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task != nil {
		select {
		case <-c.task.Done():
		default:
			return nil, ErrTaskActive
		}
	}

	opts = c.fill(opts)
	if err := c.enterRunning(); err != nil {
		return nil, err
	}
	c.exec.Reset()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := newTask(cancel)
	c.task = task
	c.logger.Info("Run started.",
		zap.String("task_id", task.ID.String()),
		zap.Bool("continuous", opts.Continuous),
		zap.Int("start_iteration", opts.StartIteration))

	go func() {
		res := c.runner.Run(runCtx, opts, c.observer())
		c.finish(task, res)
		task.finish(res)
	}()
	return task, nil
}

// RunIteration runs synchronously and returns when the run ends. Cancelling
// ctx cancels the run.
func (c *Controller) RunIteration(ctx context.Context, opts RunOptions) RunResult {
	task, err := c.Start(ctx, opts)
	if err != nil {
		return RunResult{Reason: ReasonError, Err: err}
	}
	stop := context.AfterFunc(ctx, task.Cancel)
	defer stop()
	<-task.Done()
	return task.Result()
}

// Stop raises the executor stop flag, cancels any task and moves to STOPPED.
func (c *Controller) Stop() {
	c.exec.Stop()
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
	switch cur := c.machine.Current(); cur {
	case StateRunning, StatePaused:
		if err := c.machine.Transition(StateStopped); err != nil {
			c.logger.Warn("Could not enter STOPPED.", zap.Error(err))
		}
	default:
		c.logger.Debug("Stop requested outside a run.", zap.String("state", string(cur)))
	}
}

// Pause moves RUNNING to PAUSED and holds the executor before its next action.
func (c *Controller) Pause() error {
	if err := c.machine.Transition(StatePaused); err != nil {
		return err
	}
	c.exec.SetPaused(true)
	return nil
}

// Resume moves PAUSED back to RUNNING.
func (c *Controller) Resume() error {
	if err := c.machine.Transition(StateRunning); err != nil {
		return err
	}
	c.exec.SetPaused(false)
	return nil
}

// Rollback undoes the most recent executed action.
func (c *Controller) Rollback(ctx context.Context) error {
	return c.exec.UndoLast(ctx)
}

// TestConnection pings the model endpoint.
func (c *Controller) TestConnection(ctx context.Context) (string, error) {
	return c.client.TestConnection(ctx)
}

// ListModels lists the models offered by the endpoint.
func (c *Controller) ListModels(ctx context.Context) ([]string, error) {
	return c.client.ListModels(ctx)
}

// SetProfile replaces the calibration used by later runs.
func (c *Controller) SetProfile(p *calibration.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p.Clone()
}

// Profile returns a copy of the current calibration, or nil.
func (c *Controller) Profile() *calibration.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.Clone()
}

// Configure runs fn inside CONFIGURING. Success lands in READY, failure in IDLE.
func (c *Controller) Configure(fn func() error) error {
	return c.workflow(StateConfiguring, fn)
}

// Calibrate runs fn inside CALIBRATING and installs the profile it returns.
// Failures are reported as E104.
func (c *Controller) Calibrate(fn func() (*calibration.Profile, error)) error {
	err := c.workflow(StateCalibrating, func() error {
		p, err := fn()
		if err != nil {
			return err
		}
		if p == nil {
			return errors.New("no profile produced")
		}
		c.SetProfile(p)
		return nil
	})
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		return err
	}
	return calibration.Failed(err)
}

// Snapshot reports the current state, the last run and the tracked control values.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:        c.machine.Current(),
		Paused:       c.exec.IsPaused(),
		Iteration:    c.iteration,
		Metrics:      c.metrics,
		CurrentState: maps.Clone(c.state),
		Calibrated:   c.profile.Calibrated(),
		LastReason:   c.last.Reason,
	}
	if c.last.Err != nil {
		s.LastError = c.last.Err.Error()
	}
	if c.task != nil {
		s.TaskID = c.task.ID.String()
		select {
		case <-c.task.Done():
		default:
			s.Running = true
		}
	}
	return s
}

// Wait blocks until the active task, if any, has finished.
func (c *Controller) Wait(ctx context.Context) (RunResult, error) {
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task == nil {
		return RunResult{}, nil
	}
	return task.Wait(ctx)
}

func (c *Controller) workflow(state State, fn func() error) error {
	if err := c.machine.Transition(state); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if terr := c.machine.Transition(StateIdle); terr != nil {
			c.logger.Warn("Could not return to IDLE.", zap.Error(terr))
		}
		return err
	}
	return c.machine.Transition(StateReady)
}

// enterRunning walks IDLE, STOPPED and ERROR through READY. Caller holds c.mu.
func (c *Controller) enterRunning() error {
	switch c.machine.Current() {
	case StateIdle, StateStopped, StateError:
		if err := c.machine.Transition(StateReady); err != nil {
			return err
		}
	}
	return c.machine.Transition(StateRunning)
}

// fill completes opts from the controller's carried state. Caller holds c.mu.
func (c *Controller) fill(opts RunOptions) RunOptions {
	if opts.Profile == nil {
		opts.Profile = c.profile.Clone()
	}
	if opts.CurrentState == nil {
		opts.CurrentState = maps.Clone(c.state)
	}
	if opts.StartIteration == 0 {
		opts.StartIteration = c.iteration
	}
	if opts.Settings == nil {
		opts.Settings = map[string]any{
			"continuous":     opts.Continuous,
			"instructions":   opts.Instructions,
			"max_iterations": opts.MaxIterations,
			"reference":      opts.ReferencePath,
		}
	}
	return opts
}

func (c *Controller) finish(task *Task, res RunResult) {
	c.mu.Lock()
	c.state = res.State
	c.iteration = res.Iteration
	if res.Metrics != nil {
		c.metrics = res.Metrics
	}
	c.last = res
	c.mu.Unlock()

	// A run that ends while paused is treated as stopped by the user.
	target := StateReady
	switch {
	case res.Reason == ReasonStopped, res.Reason == ReasonCancelled, c.exec.IsStopped():
		target = StateStopped
	case res.Err != nil:
		target = StateError
	case c.machine.Current() == StatePaused:
		target = StateStopped
	}
	if cur := c.machine.Current(); cur == StateRunning || cur == StatePaused {
		if err := c.machine.Transition(target); err != nil {
			c.logger.Warn("Could not leave the run state.", zap.Error(err))
		}
	}

	c.recorder.RecordRun(res.Reason)
	ev := RunFinishedEvent{
		TaskID:    task.ID.String(),
		Iteration: res.Iteration,
		Metrics:   res.Metrics,
		State:     res.State,
		Reason:    res.Reason,
		Summary:   res.Summary,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	c.bus.Publish(Event{Type: EventRunFinished, Payload: ev})
}

func (c *Controller) observer() Observer {
	return ObserverFuncs{
		Thinking: func() {
			c.bus.Publish(Event{Type: EventThinking})
		},
		Recommendation: func(summary string) {
			c.bus.Publish(Event{Type: EventRecommendation, Payload: summary})
		},
		IterationFn: func(it Iteration) {
			c.mu.Lock()
			c.iteration = it.Index
			m := it.Metrics
			c.metrics = &m
			c.mu.Unlock()
			c.bus.Publish(Event{Type: EventIteration, Payload: newIterationEvent(it)})
		},
		Log: func(msg string) {
			c.bus.Publish(Event{Type: EventLog, Payload: msg})
		},
		Paused: func(reason string) {
			if c.machine.Current() != StateRunning {
				return
			}
			if err := c.machine.Transition(StatePaused); err != nil {
				c.logger.Warn("Could not enter PAUSED.", zap.Error(err), zap.String("reason", reason))
			}
		},
	}
}

func (c *Controller) screenshot(ctx context.Context) (image.Image, error) {
	p := c.Profile()
	if p == nil {
		return nil, fmt.Errorf("agent: no calibration for screenshot")
	}
	return c.runner.capturer.Capture(ctx, p.ROI)
}
