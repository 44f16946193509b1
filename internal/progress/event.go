package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StagePassStart    Stage = "PASS_START"
	StagePassDone     Stage = "PASS_DONE"
	StagePassError    Stage = "PASS_ERROR"
	StageResourceDone Stage = "RESOURCE_DONE"
)

// Outcome classifies how a single resource left the pass.
type Outcome string

// Supported resource outcomes.
const (
	OutcomeFetched  Outcome = "fetched"
	OutcomeCached   Outcome = "cached"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// Event captures a single milestone of glossarization progress.
type Event struct {
	// PassID uniquely identifies a pass run using the 16-byte UUID form.
	PassID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or resource milestone occurred.
	Stage Stage
	// Portal names the portal the pass runs against.
	Portal string
	// Resource is the portal-scoped resource identifier, for resource events.
	Resource string
	// Outcome classifies resource completions (fetched, cached, degraded, failed).
	Outcome Outcome
	// Bytes carries the serialized descriptor size for resource completions.
	Bytes int64
	// Dur captures execution latency for resource and pass completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.PassID == [16]byte{} {
		return errors.New("pass id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Portal == "" {
		return errors.New("portal is required")
	}
	switch e.Stage {
	case StagePassStart, StagePassDone, StagePassError:
	case StageResourceDone:
		if e.Resource == "" {
			return errors.New("resource done requires resource id")
		}
		switch e.Outcome {
		case OutcomeFetched, OutcomeCached, OutcomeDegraded, OutcomeFailed:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PassUUID converts the binary pass ID to uuid.UUID for sinks and stores.
func (e Event) PassUUID() uuid.UUID {
	return uuid.UUID(e.PassID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
