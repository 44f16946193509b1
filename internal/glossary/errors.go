package glossary

import (
	"errors"
	"fmt"
)

// FetchKind partitions fetch failures by how the orchestrator must react.
type FetchKind string

// Fetch failure kinds.
const (
	// FetchNotFound: the reference no longer resolves (or access is
	// denied); recorded and skipped for the pass, never retried.
	FetchNotFound FetchKind = "not_found"
	// FetchRateLimited: the portal is throttling; the whole pass pauses
	// for the portal cooldown, then the same resource is retried.
	FetchRateLimited FetchKind = "rate_limited"
	// FetchMalformed: the payload could not be parsed into the minimal
	// required fields; the resource is still emitted degraded.
	FetchMalformed FetchKind = "malformed"
	// FetchUnreachable: network or server failure; retried with backoff,
	// then skipped.
	FetchUnreachable FetchKind = "unreachable"
)

// FetchError describes a failed catalog or metadata fetch. For malformed
// payloads the adapter salvages what it can into Name and Raw so the
// orchestrator can still emit a degraded descriptor.
type FetchError struct {
	Kind       FetchKind
	Portal     string
	Resource   string
	StatusCode int
	Name       string
	Raw        map[string]any
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s/%s: %s", e.Portal, e.Resource, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the backoff policy may attempt the fetch
// again. Rate limiting is handled separately via the portal cooldown and
// is deliberately not part of this decision.
func (e *FetchError) Retryable() bool {
	return e.Kind == FetchUnreachable
}

// AsFetchError unwraps err to the *FetchError in its chain, if any.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindForStatus maps an HTTP response status to a fetch failure kind.
// Gone and access-denied statuses group with not-found because a retry
// cannot help them; everything else server-side counts as unreachable.
func KindForStatus(status int) FetchKind {
	switch status {
	case 401, 403, 404, 410:
		return FetchNotFound
	case 429:
		return FetchRateLimited
	}
	return FetchUnreachable
}

// UnsupportedPlatformError is returned when no adapter variant matches a
// portal configuration's platform kind. It is fatal for that portal's
// invocation only; other portals are unaffected.
type UnsupportedPlatformError struct {
	Kind PlatformKind
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform kind %q", e.Kind)
}
