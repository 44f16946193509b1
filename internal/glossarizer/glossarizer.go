// Package glossarizer is the entry point external schedulers call. It
// selects the platform adapter for a portal configuration, assembles the
// per-pass machinery (token bucket, fetch client, orchestrator), and
// reports the pass outcome. Portals are independent: each pass gets its
// own adapter and sink, and only the state store is shared.
package glossarizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/urban-physiology/glossarizer/internal/adapter/socrata"
	"github.com/urban-physiology/glossarizer/internal/clock/system"
	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossary"
	"github.com/urban-physiology/glossarizer/internal/hash/sha256"
	passid "github.com/urban-physiology/glossarizer/internal/id/uuid"
	"github.com/urban-physiology/glossarizer/internal/orchestrator"
	"github.com/urban-physiology/glossarizer/internal/policy/ratelimit"
	"github.com/urban-physiology/glossarizer/internal/progress"
)

// PassCompletedEvent names the event published after every pass,
// successful or not.
const PassCompletedEvent = "pass.completed"

// DefaultMaxConcurrent bounds RunAll when Options leaves it unset.
const DefaultMaxConcurrent = 4

// bookkeepingTimeout caps how long post-pass bookkeeping (pass log,
// event publish) may run once the pass context is gone.
const bookkeepingTimeout = 10 * time.Second

// Options wires a Glossarizer. Store is required; every other field has
// a default or is optional.
type Options struct {
	Registry      *Registry            // nil means DefaultRegistry
	Store         glossary.StateStore  // required
	PassLog       glossary.PassLog     // optional pass history
	Hasher        glossary.Hasher      // nil means sha256
	Clock         glossary.Clock       // nil means system UTC clock
	IDs           glossary.IDGenerator // nil means uuidv7
	Events        progress.Emitter     // optional progress hub
	Publisher     glossary.Publisher   // optional pass-completion events
	Pager         socrata.Pager        // optional headless link resolver
	Fetch         fetch.Config         // shared HTTP client knobs
	MaxConcurrent int                  // RunAll bound, default 4
	Logger        *zap.Logger
}

// Glossarizer runs crawl passes over configured portals.
type Glossarizer struct {
	registry  *Registry
	store     glossary.StateStore
	passlog   glossary.PassLog
	hasher    glossary.Hasher
	clock     glossary.Clock
	ids       glossary.IDGenerator
	events    progress.Emitter
	publisher glossary.Publisher
	pager     socrata.Pager
	fetchCfg  fetch.Config
	maxConc   int
	logger    *zap.Logger
}

// New validates the options and builds a Glossarizer.
func New(opts Options) (*Glossarizer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("glossarizer requires a state store")
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Hasher == nil {
		opts.Hasher = sha256.New()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.IDs == nil {
		opts.IDs = passid.New()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Glossarizer{
		registry:  opts.Registry,
		store:     opts.Store,
		passlog:   opts.PassLog,
		hasher:    opts.Hasher,
		clock:     opts.Clock,
		ids:       opts.IDs,
		events:    opts.Events,
		publisher: opts.Publisher,
		pager:     opts.Pager,
		fetchCfg:  opts.Fetch,
		maxConc:   opts.MaxConcurrent,
		logger:    opts.Logger,
	}, nil
}

// Supported lists the platform kinds this Glossarizer can crawl.
func (g *Glossarizer) Supported() []glossary.PlatformKind {
	return g.registry.Supported()
}

// Run executes one crawl pass for portal, writing descriptors to sink in
// catalog traversal order. The returned record reflects whatever was
// emitted before any failure; an unsupported platform kind fails before
// anything is emitted and surfaces as *glossary.UnsupportedPlatformError.
func (g *Glossarizer) Run(ctx context.Context, portal glossary.PortalConfig, sink glossary.Sink) (glossary.PassRecord, error) {
	record := glossary.PassRecord{Portal: portal.ID}
	if err := portal.Validate(); err != nil {
		return record, fmt.Errorf("portal config: %w", err)
	}
	if sink == nil {
		return record, fmt.Errorf("portal %s: a sink is required", portal.ID)
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: portal.RateLimit, Burst: portal.RateBurst})
	client := fetch.New(portal.ID, g.fetchCfg, limiter)
	logger := g.logger.With(zap.String("portal", portal.ID))

	adapter, err := g.registry.Create(portal, client, Env{Pager: g.pager, Logger: logger})
	if err != nil {
		return record, fmt.Errorf("portal %s: %w", portal.ID, err)
	}

	orch := orchestrator.New(adapter, g.store, sink, g.hasher, g.clock, g.events, orchestrator.Config{
		Portal:   portal.ID,
		PassID:   g.newPassID(logger),
		Cooldown: portal.CooldownOrDefault(),
	}, logger)

	record, runErr := orch.Run(ctx)

	// Bookkeeping is detached from the pass context so an interrupted
	// pass still lands in the log, with a deadline so shutdown cannot
	// hang on it.
	bkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	g.recordPass(bkCtx, record, logger)
	g.publishPass(bkCtx, record, logger)
	return record, runErr
}

// Result pairs one portal with its pass outcome.
type Result struct {
	Portal string
	Record glossary.PassRecord
	Err    error
}

// SinkFor builds the output sink for one portal's pass. When the sink
// also implements glossary.CatalogSink, RunAll commits it after a clean
// pass and discards it after a failed one.
type SinkFor func(portal glossary.PortalConfig) (glossary.Sink, error)

// RunAll crawls every portal with bounded concurrency. Each portal gets
// its own sink and its own pass; one portal's failure never touches
// another's. Results come back in portals order.
func (g *Glossarizer) RunAll(ctx context.Context, portals []glossary.PortalConfig, sinkFor SinkFor) []Result {
	results := make([]Result, len(portals))
	var eg errgroup.Group
	eg.SetLimit(g.maxConc)
	for i, portal := range portals {
		eg.Go(func() error {
			results[i] = g.runPortal(ctx, portal, sinkFor)
			return nil
		})
	}
	// Portal failures live in the per-portal results; the group only
	// synchronizes completion.
	_ = eg.Wait()
	return results
}

func (g *Glossarizer) runPortal(ctx context.Context, portal glossary.PortalConfig, sinkFor SinkFor) Result {
	if sinkFor == nil {
		return Result{Portal: portal.ID, Err: fmt.Errorf("portal %s: a sink factory is required", portal.ID)}
	}
	sink, err := sinkFor(portal)
	if err != nil {
		return Result{Portal: portal.ID, Err: fmt.Errorf("build sink for portal %s: %w", portal.ID, err)}
	}
	record, err := g.Run(ctx, portal, sink)
	err = g.finishSink(ctx, portal, sink, err)
	return Result{Portal: portal.ID, Record: record, Err: err}
}

// finishSink settles a staged catalog after a pass: commit on a clean
// pass, discard on a failed one so a partial pass never replaces the
// previous catalog. Plain sinks pass through untouched.
func (g *Glossarizer) finishSink(ctx context.Context, portal glossary.PortalConfig, sink glossary.Sink, runErr error) error {
	staged, ok := sink.(glossary.CatalogSink)
	if !ok {
		return runErr
	}
	if runErr != nil {
		if err := staged.Discard(); err != nil {
			g.logger.Warn("catalog discard failed",
				zap.String("portal", portal.ID),
				zap.Error(err),
			)
		}
		return runErr
	}
	// Commit can outlive a canceled pass context only briefly.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := staged.Commit(commitCtx); err != nil {
		if derr := staged.Discard(); derr != nil {
			g.logger.Warn("catalog discard failed",
				zap.String("portal", portal.ID),
				zap.Error(derr),
			)
		}
		return fmt.Errorf("publish catalog for portal %s: %w", portal.ID, err)
	}
	return nil
}

// newPassID mints the pass identifier, falling back to a random UUID if
// the generator misbehaves.
func (g *Glossarizer) newPassID(logger *zap.Logger) uuid.UUID {
	raw, err := g.ids.NewID()
	if err != nil {
		logger.Warn("pass id generation failed, minting a random one", zap.Error(err))
		return uuid.New()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Warn("pass id is not a uuid, minting a random one", zap.String("id", raw))
		return uuid.New()
	}
	return id
}

func (g *Glossarizer) recordPass(ctx context.Context, record glossary.PassRecord, logger *zap.Logger) {
	if g.passlog == nil {
		return
	}
	if err := g.passlog.RecordPass(ctx, record); err != nil {
		logger.Warn("pass log write failed",
			zap.String("pass_id", record.PassID),
			zap.Error(err),
		)
	}
}

func (g *Glossarizer) publishPass(ctx context.Context, record glossary.PassRecord, logger *zap.Logger) {
	if g.publisher == nil {
		return
	}
	id, err := g.publisher.Publish(ctx, PassCompletedEvent, record)
	if err != nil {
		logger.Warn("pass event publish failed",
			zap.String("pass_id", record.PassID),
			zap.Error(err),
		)
		return
	}
	logger.Debug("pass event published",
		zap.String("pass_id", record.PassID),
		zap.String("message_id", id),
	)
}
