package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/metrics"
)

// Type names a notification emitted by the collaboration core.
type Type string

const (
	LockAcquired         Type = "lock.acquired"
	LockReleased         Type = "lock.released"
	LockForceReleased    Type = "lock.force_released"
	LockExpired          Type = "lock.expired"
	CollaborationChanged Type = "collaboration.changed"
	CollaborationRemoved Type = "collaboration.removed"
	RevisionCreated      Type = "revision.created"
	DocumentReverted     Type = "document.reverted"
)

// Event is a fire-and-forget notification about one document.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	MindmapID int64             `json:"mindmapId"`
	Actor     string            `json:"actor,omitempty"`
	At        time.Time         `json:"at"`
	Data      map[string]string `json:"data,omitempty"`
}

func New(t Type, mindmapID int64, actor string, data map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		MindmapID: mindmapID,
		Actor:     actor,
		At:        time.Now().UTC(),
		Data:      data,
	}
}

// Sink consumes events. Implementations may fail; callers go through Emit,
// which never lets a sink failure reach the operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Emit delivers e to s. Errors and panics are logged and counted, never returned.
func Emit(ctx context.Context, s Sink, e Event) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.EventSinkFailures.WithLabelValues(sinkName(s)).Inc()
			logger.Errorf("event sink panicked for %s on mindmap %d: %v\n%s", e.Type, e.MindmapID, r, debug.Stack())
		}
	}()
	if err := s.Publish(ctx, e); err != nil {
		metrics.EventSinkFailures.WithLabelValues(sinkName(s)).Inc()
		logger.Warnf("event sink failed for %s on mindmap %d: %v", e.Type, e.MindmapID, err)
	}
}

func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Fanout delivers every event to each of its sinks in order.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Name() string { return "fanout" }

// Publish never fails; each sink is isolated from the others.
func (f *Fanout) Publish(ctx context.Context, e Event) error {
	for _, s := range f.sinks {
		Emit(ctx, s, e)
	}
	return nil
}

// LogSink writes events to the service log at debug level.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Publish(_ context.Context, e Event) error {
	logger.Debugf("event %s mindmap=%d actor=%s data=%v", e.Type, e.MindmapID, e.Actor, e.Data)
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
