// Package arcgis glossarizes ArcGIS Hub portals through their DCAT
// feed. The whole catalog arrives as one data.json document; listing
// parses it once and metadata fetches resolve against the parsed
// datasets, reloading the feed only when a reference is not found.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Adapter crawls one ArcGIS Hub portal.
type Adapter struct {
	cfg    glossary.PortalConfig
	client *fetch.Client
	logger *zap.Logger
	base   string

	mu       sync.Mutex
	datasets map[string]map[string]any
}

// New builds an adapter for the portal described by cfg.
func New(cfg glossary.PortalConfig, client *fetch.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		logger: logger,
		base:   strings.TrimRight(cfg.Endpoint, "/"),
	}
}

// Platform identifies the adapter variant.
func (a *Adapter) Platform() glossary.PlatformKind {
	return glossary.PlatformArcGIS
}

// ListResources fetches the DCAT feed and yields one reference per
// dataset entry, in feed order.
func (a *Adapter) ListResources(ctx context.Context) (glossary.RefSeq, error) {
	datasets, err := a.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]glossary.ResourceRef, 0, len(datasets))
	for i, ds := range datasets {
		id := datasetID(ds, i)
		refs = append(refs, glossary.ResourceRef{
			ID:     id,
			Name:   stringField(ds, "title"),
			Kind:   "dataset",
			URL:    firstNonEmpty(stringField(ds, "landingPage"), id),
			Signal: stringField(ds, "modified"),
		})
	}
	return glossary.NewSliceSeq(refs), nil
}

// FetchMetadata resolves a reference against the parsed feed. A miss
// reloads the feed once in case the catalog changed under the pass.
func (a *Adapter) FetchMetadata(ctx context.Context, ref glossary.ResourceRef) (glossary.Resource, error) {
	ds, ok := a.lookup(ref.ID)
	if !ok {
		if _, err := a.loadCatalog(ctx); err != nil {
			return glossary.Resource{}, tagResource(err, ref)
		}
		if ds, ok = a.lookup(ref.ID); !ok {
			return glossary.Resource{}, &glossary.FetchError{
				Kind:     glossary.FetchNotFound,
				Portal:   a.cfg.ID,
				Resource: ref.ID,
				Name:     ref.Name,
				Err:      fmt.Errorf("dataset not in the portal feed"),
			}
		}
	}
	return a.buildDescriptor(ref, ds), nil
}

func (a *Adapter) buildDescriptor(ref glossary.ResourceRef, ds map[string]any) glossary.Resource {
	res := glossary.Resource{
		ID:          ref.ID,
		Portal:      a.cfg.ID,
		Name:        firstNonEmpty(stringField(ds, "title"), ref.Name),
		Format:      glossary.FormatUnknown,
		LandingPage: stringField(ds, "landingPage"),
		Description: stringField(ds, "description"),
		Publisher:   publisherName(ds),
		License:     stringField(ds, "license"),
		Keywords:    keywordList(ds),
		LastUpdated: parseTimestamp(stringField(ds, "modified")),
		Raw:         ds,
	}

	if dist, ok := preferredDistribution(ds); ok {
		res.Endpoint = firstNonEmpty(stringField(dist, "downloadURL"), stringField(dist, "accessURL"))
		res.Format = distributionFormat(dist, res.Endpoint)
	}
	if res.Endpoint == "" {
		// No distribution to download from; the landing page keeps the
		// dataset discoverable instead of dropping it.
		res.Endpoint = firstNonEmpty(res.LandingPage, ref.URL, ref.ID)
	}
	return res
}

func (a *Adapter) loadCatalog(ctx context.Context) ([]map[string]any, error) {
	resp, err := a.client.Get(ctx, a.base+"/data.json", nil)
	if err != nil {
		return nil, err
	}

	var feed struct {
		Dataset []map[string]any `json:"dataset"`
	}
	if err := json.Unmarshal(resp.Body, &feed); err != nil {
		return nil, &glossary.FetchError{
			Kind:   glossary.FetchMalformed,
			Portal: a.cfg.ID,
			Raw:    map[string]any{"body": string(resp.Body)},
			Err:    fmt.Errorf("decode dcat feed: %w", err),
		}
	}

	index := make(map[string]map[string]any, len(feed.Dataset))
	for i, ds := range feed.Dataset {
		index[datasetID(ds, i)] = ds
	}
	a.mu.Lock()
	a.datasets = index
	a.mu.Unlock()

	return feed.Dataset, nil
}

func (a *Adapter) lookup(id string) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ds, ok := a.datasets[id]
	return ds, ok
}

func datasetID(ds map[string]any, index int) string {
	if id := firstNonEmpty(stringField(ds, "identifier"), stringField(ds, "landingPage")); id != "" {
		return id
	}
	return "dataset-" + strconv.Itoa(index)
}

// preferredDistribution picks where to download from: the first
// distribution carrying a direct downloadURL wins, then the first with
// any accessURL.
func preferredDistribution(ds map[string]any) (map[string]any, bool) {
	dists := distributionList(ds)
	for _, dist := range dists {
		if stringField(dist, "downloadURL") != "" {
			return dist, true
		}
	}
	for _, dist := range dists {
		if stringField(dist, "accessURL") != "" {
			return dist, true
		}
	}
	return nil, false
}

func distributionList(ds map[string]any) []map[string]any {
	raw, ok := ds["distribution"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, d := range raw {
		if m, ok := d.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// distributionFormat classifies a distribution by its format label, then
// its media type, then the endpoint URL extension.
func distributionFormat(dist map[string]any, endpoint string) glossary.Format {
	if f := glossary.FormatFromLabel(stringField(dist, "format")); f != glossary.FormatUnknown {
		return f
	}
	if f := glossary.FormatFromMIME(stringField(dist, "mediaType")); f != glossary.FormatUnknown {
		return f
	}
	return glossary.FormatFromURL(endpoint)
}

func publisherName(ds map[string]any) string {
	pub, ok := ds["publisher"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(pub, "name")
}

func keywordList(ds map[string]any) []string {
	raw, ok := ds["keyword"].([]any)
	if !ok {
		return nil
	}
	words := make([]string, 0, len(raw))
	for _, k := range raw {
		s, ok := k.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			words = append(words, s)
		}
	}
	if len(words) == 0 {
		return nil
	}
	return words
}

// dcatTimeLayouts covers the stamps hub feeds emit for modified; plain
// dates are common.
var dcatTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dcatTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

func tagResource(err error, ref glossary.ResourceRef) error {
	if fe, ok := glossary.AsFetchError(err); ok {
		if fe.Resource == "" {
			fe.Resource = ref.ID
		}
		if fe.Name == "" {
			fe.Name = ref.Name
		}
	}
	return err
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
