package audit

import (
	"context"
	"sync"
	"time"
)

// Recorder persists billing events.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Searcher reads billing events back.
type Searcher interface {
	Search(ctx context.Context, filter Filter) ([]*Event, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}

type contextKey string

const actorKey contextKey = "billing_actor"

// SystemActor is recorded when no caller identity is attached.
const SystemActor = "system"

// WithActor attaches the identity responsible for the events recorded under ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the attached actor or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event *Event) error { return nil }

// MemoryRecorder keeps events in memory. It is safe for concurrent use.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []*Event
	nextID int64
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	if event.Actor == "" {
		event.Actor = ActorFromContext(ctx)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything recorded.
func (m *MemoryRecorder) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// OfType returns the recorded events of one type.
func (m *MemoryRecorder) OfType(t EventType) []*Event {
	var out []*Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
