package glossary

import (
	"context"
	"time"
)

// Adapter is the capability contract every platform variant implements.
// ListResources yields the catalog as a lazy reference sequence;
// FetchMetadata resolves one reference to a full descriptor or fails with
// a *FetchError. Adapters know how to form requests, never how fast to
// send them; pacing belongs to the orchestrator's machinery.
type Adapter interface {
	Platform() PlatformKind
	ListResources(ctx context.Context) (RefSeq, error)
	FetchMetadata(ctx context.Context, ref ResourceRef) (Resource, error)
}

// Sink receives descriptors in catalog traversal order as a pass emits
// them.
type Sink interface {
	Write(ctx context.Context, res Resource) error
}

// CatalogSink extends Sink for staged catalogs that publish atomically.
// Whoever creates the sink commits it after a clean pass and discards it
// after a failed one, so a partial pass never replaces the previous
// catalog. Both calls are idempotent and final: the sink accepts no
// writes afterwards.
type CatalogSink interface {
	Sink
	Commit(ctx context.Context) error
	Discard() error
}

// Hasher computes the content digest over canonical descriptor bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator mints pass identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes pass-completion events to a message bus (or a local
// stand-in).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
