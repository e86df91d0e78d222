package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// EventType tags an Event on the bus.
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventThinking       EventType = "thinking"
	EventRecommendation EventType = "recommendation"
	EventIteration      EventType = "iteration"
	EventLog            EventType = "log"
	EventRunFinished    EventType = "run_finished"
)

// Event is one notification for external listeners such as the websocket stream.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// EventBus fans events out to subscribers. Publishing never blocks the agent:
// an event is dropped for any subscriber whose buffer is full.
type EventBus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[chan Event][]EventType
	closed      bool

	dropped atomic.Int64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[chan Event][]EventType),
	}
}

// Publish stamps ev and delivers it to every matching subscriber.
func (b *EventBus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch, types := range b.subscribers {
		if !wants(types, ev.Type) {
			continue
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Dropped event for slow subscriber.", zap.String("type", string(ev.Type)))
		}
	}
}

// Subscribe returns a channel of events of the given types (all types when
// none are given) and a function that unsubscribes and closes the channel.
func (b *EventBus) Subscribe(types ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[ch] = types
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[ch]; ok {
				delete(b.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan Event][]EventType)
}

func wants(types []EventType, t EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// IterationEvent is the payload of EventIteration.
type IterationEvent struct {
	Index   int            `json:"index"`
	Before  vision.Metrics `json:"before"`
	Metrics vision.Metrics `json:"metrics"`
	Summary string         `json:"summary"`
	Actions []ActionEvent  `json:"actions"`
}

// ActionEvent reports one action outcome inside an IterationEvent.
type ActionEvent struct {
	Index  int    `json:"index"`
	Type   string `json:"type,omitempty"`
	Target string `json:"target,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunFinishedEvent is the payload of EventRunFinished.
type RunFinishedEvent struct {
	TaskID    string             `json:"task_id"`
	Iteration int                `json:"iteration"`
	Metrics   *vision.Metrics    `json:"metrics,omitempty"`
	State     map[string]float64 `json:"state"`
	Reason    string             `json:"reason"`
	Summary   string             `json:"summary,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func newIterationEvent(it Iteration) IterationEvent {
	ev := IterationEvent{
		Index:   it.Index,
		Before:  it.Before,
		Metrics: it.Metrics,
		Summary: it.Summary,
		Actions: []ActionEvent{},
	}
	if it.Result == nil {
		return ev
	}
	for _, o := range it.Result.Outcomes {
		ae := ActionEvent{Index: o.Index, Status: string(o.Status)}
		if o.Action != nil {
			ae.Type = string(o.Action.Kind())
			ae.Target = o.Action.TargetName()
		}
		if o.Err != nil {
			ae.Error = o.Err.Error()
		}
		ev.Actions = append(ev.Actions, ae)
	}
	return ev
}
