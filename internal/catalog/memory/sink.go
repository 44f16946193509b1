// Package memory collects descriptors in memory for tests and one-shot
// programmatic runs.
package memory

import (
	"context"
	"sync"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Sink accumulates every descriptor written to it, in order.
type Sink struct {
	mu        sync.RWMutex
	resources []glossary.Resource
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Write records the descriptor.
func (s *Sink) Write(_ context.Context, res glossary.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = append(s.resources, res)
	return nil
}

// Resources returns a copy of everything written so far, in write order.
func (s *Sink) Resources() []glossary.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]glossary.Resource, len(s.resources))
	copy(out, s.resources)
	return out
}

// Len reports how many descriptors have been written.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resources)
}

// Reset discards everything collected so far.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = nil
}
