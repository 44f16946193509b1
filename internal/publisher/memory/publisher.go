// Package memory provides an in-memory event publisher for tests and
// single-machine runs that have no Pub/Sub topic to talk to.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event is one published event held in memory. The payload is kept in
// its marshaled form so tests assert the same bytes a real broker would
// carry.
type Event struct {
	ID      string
	Name    string
	Payload []byte
}

// Publisher collects events instead of sending them anywhere.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// NewPublisher returns an empty in-memory publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload and appends it to the event log.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("mem-%d", len(p.events)+1)
	p.events = append(p.events, Event{ID: id, Name: event, Payload: data})
	return id, nil
}

// Events returns a copy of everything published so far, oldest first.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Reset discards all recorded events.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// Close satisfies the closers the app layer walks on shutdown.
func (p *Publisher) Close() error {
	return nil
}
