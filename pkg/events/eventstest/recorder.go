// Package eventstest records published events in memory.
package eventstest

import (
	"context"
	"sync"

	"github.com/jukebox-rooms/pkg/events"
)

type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, eventType events.EventType, roomCode, userID string, payload interface{}) error {
	event, err := events.NewEvent(eventType, roomCode, userID, payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns the recorded events in publish order.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Types returns the type of every recorded event in publish order.
func (r *Recorder) Types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
