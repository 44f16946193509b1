package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/urban-physiology/glossarizer/internal/progress"
)

// PassStatus is a point-in-time view of one pass held by the StatusSink.
type PassStatus struct {
	PassID   string           `json:"pass_id"`
	Portal   string           `json:"portal"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished,omitzero"`
	Result   string           `json:"result,omitempty"`
	Note     string           `json:"note,omitempty"`
	Outcomes map[string]int64 `json:"outcomes"`
	Bytes    int64            `json:"bytes"`
}

// Running reports whether the pass has not completed yet.
func (p PassStatus) Running() bool {
	return p.Finished.IsZero()
}

// StatusSink maintains a live board of recent passes for the inspection
// API. It collapses resource deltas per pass to keep lock time short.
type StatusSink struct {
	mu       sync.Mutex
	capacity int
	passes   map[uuid.UUID]*PassStatus
	order    []uuid.UUID
}

const defaultStatusCapacity = 256

// NewStatusSink constructs a StatusSink retaining up to capacity passes.
func NewStatusSink(capacity int) *StatusSink {
	if capacity <= 0 {
		capacity = defaultStatusCapacity
	}
	return &StatusSink{
		capacity: capacity,
		passes:   make(map[uuid.UUID]*PassStatus),
	}
}

// Consume collapses resource deltas and applies pass lifecycle updates.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	if s == nil {
		return nil
	}
	deltas := make(map[deltaKey]*outcomeDelta)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		passID := evt.PassUUID()
		switch evt.Stage {
		case progress.StagePassStart, progress.StagePassDone, progress.StagePassError:
			s.applyPassEvent(passID, evt)
		case progress.StageResourceDone:
			recordOutcomeDelta(deltas, passID, evt)
		}
	}
	for key, delta := range deltas {
		status := s.passes[key.passID]
		if status == nil {
			continue
		}
		status.Outcomes[key.outcome] += delta.count
		status.Bytes += delta.bytes
	}
	return nil
}

func (s *StatusSink) applyPassEvent(passID uuid.UUID, evt progress.Event) {
	switch evt.Stage {
	case progress.StagePassStart:
		if _, ok := s.passes[passID]; ok {
			return
		}
		s.passes[passID] = &PassStatus{
			PassID:   passID.String(),
			Portal:   evt.Portal,
			Started:  evt.TS,
			Outcomes: make(map[string]int64),
		}
		s.order = append(s.order, passID)
		s.prune()
	case progress.StagePassDone:
		s.completePass(passID, evt, "success")
	case progress.StagePassError:
		s.completePass(passID, evt, "error")
	}
}

func (s *StatusSink) completePass(passID uuid.UUID, evt progress.Event, result string) {
	status := s.passes[passID]
	if status == nil {
		return
	}
	status.Finished = evt.TS
	status.Result = result
	status.Note = evt.Note
}

// prune evicts the oldest finished passes beyond capacity. Running passes
// are never evicted.
func (s *StatusSink) prune() {
	if len(s.passes) <= s.capacity {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		status := s.passes[id]
		if status == nil {
			continue
		}
		if len(s.passes) > s.capacity && !status.Running() {
			delete(s.passes, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Snapshot returns the tracked passes, most recently started first.
func (s *StatusSink) Snapshot() []PassStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PassStatus, 0, len(s.passes))
	for _, status := range s.passes {
		copyStatus := *status
		copyStatus.Outcomes = make(map[string]int64, len(status.Outcomes))
		for outcome, n := range status.Outcomes {
			copyStatus.Outcomes[outcome] = n
		}
		out = append(out, copyStatus)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].PassID > out[j].PassID
		}
		return out[i].Started.After(out[j].Started)
	})
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

type deltaKey struct {
	passID  uuid.UUID
	outcome string
}

type outcomeDelta struct {
	count int64
	bytes int64
}

func recordOutcomeDelta(deltas map[deltaKey]*outcomeDelta, passID uuid.UUID, evt progress.Event) {
	if evt.Outcome == "" {
		return
	}
	key := deltaKey{passID: passID, outcome: string(evt.Outcome)}
	delta := deltas[key]
	if delta == nil {
		delta = &outcomeDelta{}
		deltas[key] = delta
	}
	delta.count++
	delta.bytes += evt.Bytes
}
