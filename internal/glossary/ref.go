package glossary

import "context"

// ResourceRef is the lightweight handle produced by catalog traversal
// before any metadata fetch happens. Kind carries the platform's own type
// token (a Socrata asset type, a listing link class) and is opaque outside
// the adapter that minted it. Signal, when non-empty, is a cheap
// change-detection token such as a source-reported modification stamp.
type ResourceRef struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Kind   string `json:"kind,omitempty"`
	URL    string `json:"url,omitempty"`
	Signal string `json:"signal,omitempty"`
}

// RefSeq is a lazy, restartable sequence of resource references. Next
// returns the following reference and true, or false once the catalog is
// exhausted. Paging cursors stay inside the implementation; callers only
// ever see next-reference semantics.
type RefSeq interface {
	Next(ctx context.Context) (ResourceRef, bool, error)
}

type sliceSeq struct {
	refs []ResourceRef
	pos  int
}

// NewSliceSeq wraps an already-materialized reference list in the RefSeq
// contract. Adapters whose catalogs arrive in one document use it, as do
// tests.
func NewSliceSeq(refs []ResourceRef) RefSeq {
	return &sliceSeq{refs: refs}
}

func (s *sliceSeq) Next(ctx context.Context) (ResourceRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return ResourceRef{}, false, err
	}
	if s.pos >= len(s.refs) {
		return ResourceRef{}, false, nil
	}
	ref := s.refs[s.pos]
	s.pos++
	return ref, true, nil
}
