package glossarizer

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/adapter/arcgis"
	"github.com/urban-physiology/glossarizer/internal/adapter/ckan"
	"github.com/urban-physiology/glossarizer/internal/adapter/filelisting"
	"github.com/urban-physiology/glossarizer/internal/adapter/socrata"
	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Env carries the shared collaborators a factory may hand its adapter.
type Env struct {
	// Pager resolves script-rendered download links. nil disables
	// resolution even for portals that request it.
	Pager  socrata.Pager
	Logger *zap.Logger
}

// Factory builds the platform adapter for one portal.
type Factory func(cfg glossary.PortalConfig, client *fetch.Client, env Env) (glossary.Adapter, error)

// Registry maps platform kinds to adapter factories. The zero value is
// usable and empty; DefaultRegistry returns one carrying every shipped
// adapter.
type Registry struct {
	mu        sync.RWMutex
	factories map[glossary.PlatformKind]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[glossary.PlatformKind]Factory)}
}

// Register binds kind to factory, replacing any previous binding.
func (r *Registry) Register(kind glossary.PlatformKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = make(map[glossary.PlatformKind]Factory)
	}
	r.factories[kind] = factory
}

// Create builds the adapter for cfg.Platform. An unregistered kind fails
// with *glossary.UnsupportedPlatformError.
func (r *Registry) Create(cfg glossary.PortalConfig, client *fetch.Client, env Env) (glossary.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, &glossary.UnsupportedPlatformError{Kind: cfg.Platform}
	}
	return factory(cfg, client, env)
}

// Supported lists the registered platform kinds in lexical order.
func (r *Registry) Supported() []glossary.PlatformKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]glossary.PlatformKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultRegistry returns a Registry with every first-party adapter
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(glossary.PlatformSocrata, func(cfg glossary.PortalConfig, client *fetch.Client, env Env) (glossary.Adapter, error) {
		return socrata.New(cfg, client, env.Pager, env.Logger)
	})
	r.Register(glossary.PlatformCKAN, func(cfg glossary.PortalConfig, client *fetch.Client, env Env) (glossary.Adapter, error) {
		return ckan.New(cfg, client, env.Logger), nil
	})
	r.Register(glossary.PlatformArcGIS, func(cfg glossary.PortalConfig, client *fetch.Client, env Env) (glossary.Adapter, error) {
		return arcgis.New(cfg, client, env.Logger), nil
	})
	r.Register(glossary.PlatformFileListing, func(cfg glossary.PortalConfig, client *fetch.Client, env Env) (glossary.Adapter, error) {
		return filelisting.New(cfg, client, env.Logger), nil
	})
	return r
}
