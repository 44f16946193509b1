// Package memory provides an in-memory crawl state store for development
// and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Store keeps crawl state and pass summaries in process memory. It
// implements both glossary.StateStore and glossary.PassLog. Nothing
// survives a restart, so it is only suitable for tests and one-shot runs.
type Store struct {
	mu      sync.RWMutex
	entries map[string]map[string]glossary.StateEntry
	passes  map[string][]glossary.PassRecord
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]map[string]glossary.StateEntry),
		passes:  make(map[string][]glossary.PassRecord),
	}
}

// Get returns the entry for (portal, resourceID), or glossary.ErrNotFound
// when the resource has never been seen.
func (s *Store) Get(_ context.Context, portal, resourceID string) (glossary.StateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[portal][resourceID]
	if !ok {
		return glossary.StateEntry{}, glossary.ErrNotFound
	}
	return copyEntry(entry), nil
}

// Put stores the entry, replacing any previous one for the same key.
func (s *Store) Put(_ context.Context, entry glossary.StateEntry) error {
	if entry.Portal == "" || entry.ResourceID == "" {
		return fmt.Errorf("state entry requires portal and resource id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byResource, ok := s.entries[entry.Portal]
	if !ok {
		byResource = make(map[string]glossary.StateEntry)
		s.entries[entry.Portal] = byResource
	}
	byResource[entry.ResourceID] = copyEntry(entry)
	return nil
}

// Iterate returns a snapshot of the portal's entries sorted by resource ID.
func (s *Store) Iterate(_ context.Context, portal string) ([]glossary.StateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]glossary.StateEntry, 0, len(s.entries[portal]))
	for _, entry := range s.entries[portal] {
		entries = append(entries, copyEntry(entry))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ResourceID < entries[j].ResourceID
	})
	return entries, nil
}

// RecordPass appends a pass summary for the portal.
func (s *Store) RecordPass(_ context.Context, rec glossary.PassRecord) error {
	if rec.Portal == "" {
		return fmt.Errorf("pass record requires a portal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes[rec.Portal] = append(s.passes[rec.Portal], copyPass(rec))
	return nil
}

// ListPasses returns pass summaries newest-first. A non-positive limit
// returns every recorded pass.
func (s *Store) ListPasses(_ context.Context, portal string, limit int) ([]glossary.PassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]glossary.PassRecord, 0, len(s.passes[portal]))
	for _, rec := range s.passes[portal] {
		recs = append(recs, copyPass(rec))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Started.After(recs[j].Started)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func copyEntry(e glossary.StateEntry) glossary.StateEntry {
	if len(e.Descriptor) > 0 {
		e.Descriptor = append(json.RawMessage(nil), e.Descriptor...)
	}
	return e
}

func copyPass(r glossary.PassRecord) glossary.PassRecord {
	if len(r.Issues) > 0 {
		r.Issues = append([]glossary.PassIssue(nil), r.Issues...)
	}
	return r
}
