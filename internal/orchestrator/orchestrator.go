// Package orchestrator executes crawl passes. It walks a portal's catalog
// in traversal order, decides per resource between the cache-hit path and
// a fresh fetch, applies retry and cooldown policy, and hands finished
// descriptors to the output sink.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/glossary"
	"github.com/urban-physiology/glossarizer/internal/progress"
)

// maxCooldownsPerResource bounds how often a single resource may trigger a
// rate-limit cooldown before the pass gives up on it.
const maxCooldownsPerResource = 3

// Config controls Orchestrator behavior for one pass.
type Config struct {
	Portal   string
	PassID   uuid.UUID
	Cooldown time.Duration
}

// Orchestrator runs a single portal's crawl pass.
type Orchestrator struct {
	adapter glossary.Adapter
	store   glossary.StateStore
	sink    glossary.Sink
	hasher  glossary.Hasher
	clock   glossary.Clock
	events  progress.Emitter
	retry   *ExponentialRetryPolicy
	pause   pauseController
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Orchestrator.
func New(
	adapter glossary.Adapter,
	store glossary.StateStore,
	sink glossary.Sink,
	hasher glossary.Hasher,
	clock glossary.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassID == uuid.Nil {
		cfg.PassID = uuid.New()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = glossary.DefaultCooldown
	}
	return &Orchestrator{
		adapter: adapter,
		store:   store,
		sink:    sink,
		hasher:  hasher,
		clock:   clock,
		events:  events,
		retry:   NewExponentialRetryPolicy(),
		pause:   &timerPauseController{},
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one pass over the portal catalog. Per-resource failures are
// recorded and never abort the pass; only listing errors and cancellation
// do. The returned PassRecord is populated either way.
func (o *Orchestrator) Run(ctx context.Context) (glossary.PassRecord, error) {
	record := glossary.PassRecord{
		PassID:  o.cfg.PassID.String(),
		Portal:  o.cfg.Portal,
		Started: o.clock.Now(),
	}
	o.emit(progress.Event{Stage: progress.StagePassStart, TS: record.Started})

	seq, err := o.adapter.ListResources(ctx)
	if err != nil {
		return o.finish(record, fmt.Errorf("list resources: %w", err))
	}
	for {
		if err := ctx.Err(); err != nil {
			return o.finish(record, fmt.Errorf("pass canceled: %w", err))
		}
		ref, ok, err := seq.Next(ctx)
		if err != nil {
			return o.finish(record, fmt.Errorf("advance listing: %w", err))
		}
		if !ok {
			break
		}
		if err := o.processResource(ctx, ref, &record); err != nil {
			return o.finish(record, fmt.Errorf("pass canceled: %w", err))
		}
	}
	return o.finish(record, nil)
}

func (o *Orchestrator) finish(record glossary.PassRecord, err error) (glossary.PassRecord, error) {
	record.Finished = o.clock.Now()
	dur := record.Finished.Sub(record.Started)
	if err != nil {
		record.ErrorText = err.Error()
		o.emit(progress.Event{Stage: progress.StagePassError, TS: record.Finished, Dur: dur, Note: record.ErrorText})
		o.logger.Error("pass failed",
			zap.String("pass_id", record.PassID),
			zap.String("portal", record.Portal),
			zap.Error(err),
		)
		return record, err
	}
	o.emit(progress.Event{Stage: progress.StagePassDone, TS: record.Finished, Dur: dur})
	o.logger.Info("pass completed",
		zap.String("pass_id", record.PassID),
		zap.String("portal", record.Portal),
		zap.Int("emitted", record.Emitted),
		zap.Int("cached", record.Cached),
		zap.Int("degraded", record.Degraded),
		zap.Int("failed", record.Failed),
		zap.Duration("dur", dur),
	)
	return record, nil
}

// processResource handles one catalog reference. A non-nil return means
// the pass must stop; every other outcome lands in the record.
func (o *Orchestrator) processResource(ctx context.Context, ref glossary.ResourceRef, record *glossary.PassRecord) error {
	start := o.clock.Now()

	entry, found := o.lookupState(ctx, ref, record)
	if found && o.isFresh(entry, ref) {
		if o.emitCached(ctx, ref, entry, record, start) {
			return nil
		}
		// A cache entry that no longer decodes falls through to a
		// fresh fetch.
	}

	res, err := o.fetchWithRetry(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fe, ok := glossary.AsFetchError(err); ok && fe.Kind == glossary.FetchMalformed {
			o.emitDegraded(ctx, ref, fe, record, start)
			return nil
		}
		o.recordFailure(ctx, ref, entry, err, record, start)
		return nil
	}
	o.emitFetched(ctx, ref, res, record, start)
	return nil
}

// fetchWithRetry resolves one reference, retrying transient failures and
// waiting out rate-limit cooldowns. Cooldown rounds do not consume retry
// attempts.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, ref glossary.ResourceRef) (glossary.Resource, error) {
	attempts := 0
	cooldowns := 0
	for {
		res, err := o.adapter.FetchMetadata(ctx, ref)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return glossary.Resource{}, err
		}
		if fe, ok := glossary.AsFetchError(err); ok && fe.Kind == glossary.FetchRateLimited {
			cooldowns++
			if cooldowns > maxCooldownsPerResource {
				return glossary.Resource{}, err
			}
			o.logger.Warn("portal rate limited, cooling down",
				zap.String("portal", o.cfg.Portal),
				zap.String("resource", ref.ID),
				zap.Duration("cooldown", o.cfg.Cooldown),
			)
			o.pause.Pause(ctx, o.cfg.Cooldown)
			continue
		}
		attempts++
		if !o.retry.ShouldRetry(err, attempts) {
			return glossary.Resource{}, err
		}
		o.pause.Pause(ctx, o.retry.Backoff(attempts-1))
	}
}

func (o *Orchestrator) lookupState(ctx context.Context, ref glossary.ResourceRef, record *glossary.PassRecord) (glossary.StateEntry, bool) {
	entry, err := o.store.Get(ctx, o.cfg.Portal, ref.ID)
	if err == nil {
		return entry, true
	}
	if !errors.Is(err, glossary.ErrNotFound) {
		o.logger.Warn("state lookup failed",
			zap.String("portal", o.cfg.Portal),
			zap.String("resource", ref.ID),
			zap.Error(err),
		)
		o.addIssue(record, ref.ID, "state", fmt.Sprintf("lookup: %v", err))
	}
	return glossary.StateEntry{}, false
}

// isFresh reports whether the listing signal proves the stored descriptor
// is still current. Portals that expose no signal always refetch.
func (o *Orchestrator) isFresh(entry glossary.StateEntry, ref glossary.ResourceRef) bool {
	return ref.Signal != "" &&
		entry.Signal == ref.Signal &&
		entry.Failures == 0 &&
		len(entry.Descriptor) > 0
}

func (o *Orchestrator) emitCached(ctx context.Context, ref glossary.ResourceRef, entry glossary.StateEntry, record *glossary.PassRecord, start time.Time) bool {
	res, ok, err := entry.CachedDescriptor()
	if err != nil || !ok {
		o.logger.Warn("cached descriptor unusable, refetching",
			zap.String("portal", o.cfg.Portal),
			zap.String("resource", ref.ID),
			zap.Error(err),
		)
		return false
	}
	if err := o.sink.Write(ctx, res); err != nil {
		o.recordSinkFailure(ref, err, record, start)
		return true
	}
	record.Cached++
	o.emitResourceDone(ref.ID, progress.OutcomeCached, int64(len(entry.Descriptor)), start, "")
	return true
}

func (o *Orchestrator) emitFetched(ctx context.Context, ref glossary.ResourceRef, res glossary.Resource, record *glossary.PassRecord, start time.Time) {
	o.normalize(&res, ref)
	payload, err := o.seal(&res)
	if err != nil {
		o.addIssue(record, ref.ID, "encode", err.Error())
		record.Failed++
		o.emitResourceDone(ref.ID, progress.OutcomeFailed, 0, start, err.Error())
		return
	}
	if err := o.sink.Write(ctx, res); err != nil {
		o.recordSinkFailure(ref, err, record, start)
		return
	}

	now := o.clock.Now()
	o.putState(ctx, glossary.StateEntry{
		Portal:      o.cfg.Portal,
		ResourceID:  ref.ID,
		Hash:        res.Hash,
		Signal:      ref.Signal,
		LastSuccess: now,
		Failures:    0,
		Descriptor:  payload,
		UpdatedAt:   now,
	}, record)

	record.Emitted++
	o.emitResourceDone(ref.ID, progress.OutcomeFetched, int64(len(payload)), start, "")
}

// emitDegraded turns a malformed-metadata failure into an unknown-format
// descriptor built from whatever the adapter salvaged. The resource stays
// in the glossary rather than being dropped.
func (o *Orchestrator) emitDegraded(ctx context.Context, ref glossary.ResourceRef, fe *glossary.FetchError, record *glossary.PassRecord, start time.Time) {
	res := glossary.Resource{
		ID:       ref.ID,
		Portal:   o.cfg.Portal,
		Name:     ref.Name,
		Format:   glossary.FormatUnknown,
		Endpoint: ref.URL,
		Raw:      fe.Raw,
	}
	if fe.Resource != "" {
		res.ID = fe.Resource
	}
	if fe.Name != "" {
		res.Name = fe.Name
	}
	o.normalize(&res, ref)

	payload, err := o.seal(&res)
	if err != nil {
		o.addIssue(record, ref.ID, "encode", err.Error())
		record.Failed++
		o.emitResourceDone(ref.ID, progress.OutcomeFailed, 0, start, err.Error())
		return
	}
	if err := o.sink.Write(ctx, res); err != nil {
		o.recordSinkFailure(ref, err, record, start)
		return
	}

	now := o.clock.Now()
	o.putState(ctx, glossary.StateEntry{
		Portal:      o.cfg.Portal,
		ResourceID:  ref.ID,
		Hash:        res.Hash,
		Signal:      ref.Signal,
		LastSuccess: now,
		Failures:    0,
		LastError:   string(glossary.FetchMalformed),
		Descriptor:  payload,
		UpdatedAt:   now,
	}, record)

	record.Degraded++
	o.addIssue(record, ref.ID, string(glossary.FetchMalformed), fe.Error())
	o.emitResourceDone(ref.ID, progress.OutcomeDegraded, int64(len(payload)), start, fe.Error())
	o.logger.Warn("degraded descriptor emitted",
		zap.String("portal", o.cfg.Portal),
		zap.String("resource", ref.ID),
		zap.Error(fe),
	)
}

// recordFailure books a resource the pass could not resolve. The previous
// descriptor and hash stay in the entry so a later pass can still resume.
func (o *Orchestrator) recordFailure(ctx context.Context, ref glossary.ResourceRef, entry glossary.StateEntry, err error, record *glossary.PassRecord, start time.Time) {
	kind := string(glossary.FetchUnreachable)
	if fe, ok := glossary.AsFetchError(err); ok {
		kind = string(fe.Kind)
	}

	now := o.clock.Now()
	entry.Portal = o.cfg.Portal
	entry.ResourceID = ref.ID
	entry.Failures++
	entry.LastError = err.Error()
	entry.UpdatedAt = now
	o.putState(ctx, entry, record)

	record.Failed++
	o.addIssue(record, ref.ID, kind, err.Error())
	o.emitResourceDone(ref.ID, progress.OutcomeFailed, 0, start, kind)
	o.logger.Warn("resource failed",
		zap.String("portal", o.cfg.Portal),
		zap.String("resource", ref.ID),
		zap.String("kind", kind),
		zap.Int("failures", entry.Failures),
		zap.Error(err),
	)
}

func (o *Orchestrator) recordSinkFailure(ref glossary.ResourceRef, err error, record *glossary.PassRecord, start time.Time) {
	record.Failed++
	o.addIssue(record, ref.ID, "sink", err.Error())
	o.emitResourceDone(ref.ID, progress.OutcomeFailed, 0, start, "sink: "+err.Error())
	o.logger.Error("descriptor write failed",
		zap.String("portal", o.cfg.Portal),
		zap.String("resource", ref.ID),
		zap.Error(err),
	)
}

// normalize guarantees the descriptor floor: portal scoping, an identifier,
// a name, and a total format, no matter how little the adapter recovered.
func (o *Orchestrator) normalize(res *glossary.Resource, ref glossary.ResourceRef) {
	res.Portal = o.cfg.Portal
	if res.ID == "" {
		res.ID = ref.ID
	}
	if res.Name == "" {
		res.Name = ref.Name
	}
	if res.Name == "" {
		res.Name = res.ID
	}
	if res.Endpoint == "" {
		res.Endpoint = ref.URL
	}
	if res.Format == "" || !res.Format.Valid() {
		res.Format = glossary.FormatUnknown
	}
}

// seal hashes the canonical descriptor bytes, stamps the hash, and returns
// the serialized form used for the state cache and byte accounting.
func (o *Orchestrator) seal(res *glossary.Resource) ([]byte, error) {
	canonical, err := res.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("canonicalize descriptor: %w", err)
	}
	digest, err := o.hasher.Hash(canonical)
	if err != nil {
		return nil, fmt.Errorf("hash descriptor: %w", err)
	}
	res.Hash = digest
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return payload, nil
}

func (o *Orchestrator) putState(ctx context.Context, entry glossary.StateEntry, record *glossary.PassRecord) {
	if err := o.store.Put(ctx, entry); err != nil {
		o.logger.Error("state update failed",
			zap.String("portal", entry.Portal),
			zap.String("resource", entry.ResourceID),
			zap.Error(err),
		)
		o.addIssue(record, entry.ResourceID, "state", fmt.Sprintf("put: %v", err))
	}
}

func (o *Orchestrator) addIssue(record *glossary.PassRecord, resourceID, kind, detail string) {
	record.Issues = append(record.Issues, glossary.PassIssue{
		ResourceID: resourceID,
		Kind:       kind,
		Detail:     detail,
		Occurred:   o.clock.Now(),
	})
}

func (o *Orchestrator) emitResourceDone(resourceID string, outcome progress.Outcome, bytes int64, start time.Time, note string) {
	o.emit(progress.Event{
		Stage:    progress.StageResourceDone,
		TS:       o.clock.Now(),
		Resource: resourceID,
		Outcome:  outcome,
		Bytes:    bytes,
		Dur:      o.clock.Now().Sub(start),
		Note:     note,
	})
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.events == nil {
		return
	}
	evt.PassID = progress.UUIDToBytes(o.cfg.PassID)
	evt.Portal = o.cfg.Portal
	if evt.TS.IsZero() {
		evt.TS = o.clock.Now()
	}
	o.events.Emit(evt)
}
