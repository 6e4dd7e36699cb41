package engine

import (
	"context"
	"sync"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// Subscriber receives every event after it has been persisted. Subscribers
// must not block, they run on the recording goroutine.
type Subscriber interface {
	OnEvent(e domain.EventLogEntry)
}

// Recorder appends lifecycle events to the event log and fans them out to
// in-process subscribers. Append failures are logged inside the repository
// and never surface to the workflow path.
type Recorder struct {
	events EventRepo
	clock  core.Clock

	mu   sync.RWMutex
	subs []Subscriber
}

func NewRecorder(events EventRepo, clock core.Clock) *Recorder {
	return &Recorder{events: events, clock: clock}
}

func (r *Recorder) Subscribe(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, s)
}

func (r *Recorder) Record(_ context.Context, instanceID int64, eventType domain.EventType, actor string, detail map[string]any) {
	entry := domain.EventLogEntry{
		InstanceID: instanceID,
		Type:       eventType,
		Actor:      actor,
		Detail:     detail,
		Created:    r.clock.Now().UTC(),
	}
	r.events.Append(&entry)

	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()
	for _, s := range subs {
		s.OnEvent(entry)
	}
}
