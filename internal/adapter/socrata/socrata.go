// Package socrata glossarizes Socrata-backed open data portals. Listing
// walks the domain catalog API page by page; metadata fetches pull the
// view document for each asset and map Socrata's asset-type vocabulary
// onto the shared format set.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Pager resolves the real download href hidden behind a script-rendered
// asset landing page. The headless package provides the chromedp
// implementation; a nil Pager leaves the landing page as the endpoint.
type Pager interface {
	ResolveDownloadLink(ctx context.Context, landingPage string) (string, error)
}

// Asset types the catalog API reports.
const (
	assetTypeDataset = "dataset"
	assetTypeMap     = "map"
	assetTypeFile    = "file"
	assetTypeHref    = "href"
	assetTypeStory   = "story"
)

// Adapter crawls one Socrata portal.
type Adapter struct {
	cfg    glossary.PortalConfig
	client *fetch.Client
	pager  Pager
	logger *zap.Logger
	base   string
	host   string
}

// New builds an adapter for the portal described by cfg. pager may be
// nil; it is only consulted when cfg.ResolveLinks is set.
func New(cfg glossary.PortalConfig, client *fetch.Client, pager Pager, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse portal endpoint: %w", err)
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		pager:  pager,
		logger: logger,
		base:   strings.TrimRight(cfg.Endpoint, "/"),
		host:   u.Host,
	}, nil
}

// Platform identifies the adapter variant.
func (a *Adapter) Platform() glossary.PlatformKind {
	return glossary.PlatformSocrata
}

// ListResources starts a fresh traversal of the portal catalog. Pages are
// fetched on demand as the caller drains the sequence.
func (a *Adapter) ListResources(ctx context.Context) (glossary.RefSeq, error) {
	return &catalogSeq{adapter: a, limit: a.cfg.PageSizeOrDefault()}, nil
}

// FetchMetadata pulls the view document for one asset and shapes it into
// a descriptor. Field-level gaps fall back to catalog values; only a
// payload that cannot be decoded at all comes back as malformed.
func (a *Adapter) FetchMetadata(ctx context.Context, ref glossary.ResourceRef) (glossary.Resource, error) {
	resp, err := a.client.Get(ctx, a.viewURL(ref.ID), nil)
	if err != nil {
		return glossary.Resource{}, tagResource(err, ref)
	}

	var view map[string]any
	if err := json.Unmarshal(resp.Body, &view); err != nil {
		return glossary.Resource{}, &glossary.FetchError{
			Kind:     glossary.FetchMalformed,
			Portal:   a.cfg.ID,
			Resource: ref.ID,
			Name:     ref.Name,
			Raw:      map[string]any{"body": string(resp.Body)},
			Err:      fmt.Errorf("decode view document: %w", err),
		}
	}
	return a.buildDescriptor(ctx, ref, view), nil
}

func (a *Adapter) buildDescriptor(ctx context.Context, ref glossary.ResourceRef, view map[string]any) glossary.Resource {
	res := glossary.Resource{
		ID:          ref.ID,
		Portal:      a.cfg.ID,
		Name:        stringField(view, "name"),
		Format:      formatForAssetType(ref.Kind),
		LandingPage: a.landingURL(ref.ID),
		Description: stringField(view, "description"),
		Publisher:   stringField(view, "attribution"),
		License:     licenseName(view),
		Keywords:    keywordList(view),
		LastUpdated: lastUpdated(view),
		Raw:         view,
	}
	if res.Name == "" {
		res.Name = ref.Name
	}
	res.Endpoint = a.endpointSlug(ctx, ref, res.Format)
	return res
}

// endpointSlug builds the download endpoint for an asset. Datasets and
// maps have canonical export slugs; blob and link assets go through the
// pager because their real href only exists in rendered markup.
func (a *Adapter) endpointSlug(ctx context.Context, ref glossary.ResourceRef, format glossary.Format) string {
	switch format {
	case glossary.FormatTabular:
		return a.base + "/api/views/" + ref.ID + "/rows.csv?accessType=DOWNLOAD"
	case glossary.FormatGeospatial:
		return a.base + "/api/geospatial/" + ref.ID + "?method=export&format=GeoJSON"
	case glossary.FormatDocument, glossary.FormatAPI:
		return a.resolveAssetLink(ctx, ref)
	}
	return a.landingURL(ref.ID)
}

func (a *Adapter) resolveAssetLink(ctx context.Context, ref glossary.ResourceRef) string {
	landing := a.landingURL(ref.ID)
	if !a.cfg.ResolveLinks || a.pager == nil {
		return landing
	}
	link, err := a.pager.ResolveDownloadLink(ctx, landing)
	if err != nil || link == "" {
		a.logger.Warn("download link resolution failed, keeping landing page",
			zap.String("portal", a.cfg.ID),
			zap.String("resource", ref.ID),
			zap.Error(err))
		return landing
	}
	return link
}

func (a *Adapter) viewURL(id string) string {
	return a.base + "/api/views/" + id + ".json"
}

func (a *Adapter) landingURL(id string) string {
	return a.base + "/d/" + id
}

func (a *Adapter) catalogURL(offset, limit int) string {
	q := url.Values{}
	q.Set("domains", a.host)
	q.Set("search_context", a.host)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return a.base + "/api/catalog/v1?" + q.Encode()
}

// catalogSeq pages the catalog API lazily. Next hands out one buffered
// reference at a time and fetches the following page only when the
// buffer runs dry. A fresh traversal starts from ListResources.
type catalogSeq struct {
	adapter *Adapter
	limit   int
	offset  int
	total   int
	done    bool
	buf     []glossary.ResourceRef
}

func (s *catalogSeq) Next(ctx context.Context) (glossary.ResourceRef, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return glossary.ResourceRef{}, false, err
		}
		if len(s.buf) > 0 {
			ref := s.buf[0]
			s.buf = s.buf[1:]
			return ref, true, nil
		}
		if s.done {
			return glossary.ResourceRef{}, false, nil
		}
		if err := s.fetchPage(ctx); err != nil {
			return glossary.ResourceRef{}, false, err
		}
	}
}

func (s *catalogSeq) fetchPage(ctx context.Context) error {
	page, err := s.adapter.fetchCatalogPage(ctx, s.offset, s.limit)
	if err != nil {
		return err
	}
	s.total = page.ResultSetSize
	s.offset += len(page.Results)
	if len(page.Results) == 0 || s.offset >= s.total {
		s.done = true
	}
	s.buf = s.adapter.refsFromPage(page)
	return nil
}

type catalogPage struct {
	Results       []catalogRow `json:"results"`
	ResultSetSize int          `json:"resultSetSize"`
}

type catalogRow struct {
	Resource struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Type       string `json:"type"`
		UpdatedAt  string `json:"updatedAt"`
		Provenance string `json:"provenance"`
	} `json:"resource"`
}

func (a *Adapter) fetchCatalogPage(ctx context.Context, offset, limit int) (catalogPage, error) {
	resp, err := a.client.Get(ctx, a.catalogURL(offset, limit), nil)
	if err != nil {
		return catalogPage{}, err
	}
	var page catalogPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return catalogPage{}, &glossary.FetchError{
			Kind:   glossary.FetchMalformed,
			Portal: a.cfg.ID,
			Err:    fmt.Errorf("decode catalog page at offset %d: %w", offset, err),
		}
	}
	return page, nil
}

// refsFromPage turns catalog rows into references. Story assets and
// community-provenance uploads are not portal data and are excluded at
// listing time.
func (a *Adapter) refsFromPage(page catalogPage) []glossary.ResourceRef {
	refs := make([]glossary.ResourceRef, 0, len(page.Results))
	for _, row := range page.Results {
		res := row.Resource
		if res.ID == "" {
			a.logger.Warn("catalog row missing asset id, skipping",
				zap.String("portal", a.cfg.ID),
				zap.String("name", res.Name))
			continue
		}
		if res.Type == assetTypeStory || strings.EqualFold(res.Provenance, "community") {
			continue
		}
		refs = append(refs, glossary.ResourceRef{
			ID:     res.ID,
			Name:   res.Name,
			Kind:   res.Type,
			URL:    a.viewURL(res.ID),
			Signal: res.UpdatedAt,
		})
	}
	return refs
}

// formatForAssetType maps the asset-type vocabulary onto formats by how
// each type serves its data: datasets export as CSV, maps as GeoJSON,
// file assets are opaque blobs, hrefs point at external endpoints.
func formatForAssetType(assetType string) glossary.Format {
	switch strings.ToLower(assetType) {
	case assetTypeDataset:
		return glossary.FormatTabular
	case assetTypeMap:
		return glossary.FormatGeospatial
	case assetTypeFile:
		return glossary.FormatDocument
	case assetTypeHref:
		return glossary.FormatAPI
	}
	return glossary.FormatUnknown
}

// tagResource stamps the failing reference onto a client fetch error so
// downstream records carry the resource identity.
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

func licenseName(view map[string]any) string {
	lic, ok := view["license"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(lic, "name")
}

func keywordList(view map[string]any) []string {
	raw, ok := view["tags"].([]any)
	if !ok {
		return nil
	}
	words := make([]string, 0, len(raw))
	for _, t := range raw {
		s, ok := t.(string)
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

// lastUpdated picks the freshest modification stamp the view reports.
// Socrata serializes these as epoch seconds.
func lastUpdated(view map[string]any) *time.Time {
	for _, key := range []string{"rowsUpdatedAt", "viewLastModified", "createdAt"} {
		if ts, ok := epochField(view, key); ok {
			return &ts
		}
	}
	return nil
}

func epochField(view map[string]any, key string) (time.Time, bool) {
	v, ok := view[key].(float64)
	if !ok || v <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(v), 0).UTC(), true
}
