package glossary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by StateStore.Get when no entry exists for the
// requested key.
var ErrNotFound = errors.New("state entry not found")

// StateEntry records the last known outcome for one resource. Entries are
// keyed by (Portal, ResourceID), created on first sighting, updated after
// every fetch attempt, and never deleted automatically.
type StateEntry struct {
	Portal      string          `json:"portal"`
	ResourceID  string          `json:"resource_id"`
	Hash        string          `json:"hash,omitempty"`
	Signal      string          `json:"signal,omitempty"`
	LastSuccess time.Time       `json:"last_success,omitempty"`
	Failures    int             `json:"failures"`
	LastError   string          `json:"last_error,omitempty"`
	Descriptor  json.RawMessage `json:"descriptor,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SetDescriptor caches the emitted descriptor on the entry so the
// cache-hit path can re-emit it without refetching.
func (e *StateEntry) SetDescriptor(r Resource) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode cached descriptor %s/%s: %w", e.Portal, e.ResourceID, err)
	}
	e.Descriptor = data
	return nil
}

// CachedDescriptor decodes the cached descriptor, when one is present.
func (e StateEntry) CachedDescriptor() (Resource, bool, error) {
	if len(e.Descriptor) == 0 {
		return Resource{}, false, nil
	}
	var r Resource
	if err := json.Unmarshal(e.Descriptor, &r); err != nil {
		return Resource{}, false, fmt.Errorf("decode cached descriptor %s/%s: %w", e.Portal, e.ResourceID, err)
	}
	return r, true, nil
}

// StateStore persists crawl state entries. Implementations must make Put
// atomic per key and must serve Iterate from a consistent (possibly
// slightly stale) snapshot while a crawl is writing. Within one pass there
// is exactly one writer per key, so last-writer-wins per key suffices.
type StateStore interface {
	Get(ctx context.Context, portal, resourceID string) (StateEntry, error)
	Put(ctx context.Context, entry StateEntry) error
	Iterate(ctx context.Context, portal string) ([]StateEntry, error)
}

// PassIssue is one structured warning or failure collected during a pass.
type PassIssue struct {
	ResourceID string    `json:"resource_id,omitempty"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	Occurred   time.Time `json:"occurred_at"`
}

// PassRecord summarizes one crawl pass. It is both the report handed back
// to the caller and the audit row persisted through the PassLog.
type PassRecord struct {
	PassID    string      `json:"pass_id"`
	Portal    string      `json:"portal"`
	Started   time.Time   `json:"started_at"`
	Finished  time.Time   `json:"finished_at"`
	Emitted   int         `json:"emitted"`
	Cached    int         `json:"cached"`
	Degraded  int         `json:"degraded"`
	Failed    int         `json:"failed"`
	Issues    []PassIssue `json:"issues,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
}

// PassLog persists pass summaries for audit and inspection.
type PassLog interface {
	RecordPass(ctx context.Context, rec PassRecord) error
	ListPasses(ctx context.Context, portal string, limit int) ([]PassRecord, error)
}
