// Package ckan glossarizes CKAN-backed open data portals through the
// action API: package_list for discovery, package_show for metadata.
//
// CKAN packages do not map one-to-one onto resources. A package whose
// resource URLs share a single file stem is one dataset offered in
// several formats and yields one descriptor; a package whose URLs point
// at distinct stems bundles separate datasets and is split into one
// descriptor per resource.
package ckan

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

// Reference kinds minted at listing time. A package reference resolves
// to the package's primary resource; a resource reference carries the
// package name and resource key joined by a slash.
const (
	refKindPackage  = "package"
	refKindResource = "resource"
)

// Adapter crawls one CKAN portal.
type Adapter struct {
	cfg    glossary.PortalConfig
	client *fetch.Client
	logger *zap.Logger
	base   string
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
	return glossary.PlatformCKAN
}

// ListResources starts a fresh traversal. Package names page through
// package_list when a page size is configured; each package is expanded
// into references with one package_show call as the sequence is drained.
func (a *Adapter) ListResources(ctx context.Context) (glossary.RefSeq, error) {
	return &packageSeq{adapter: a, pageSize: a.cfg.PageSize}, nil
}

// FetchMetadata resolves a reference back to its package document and
// shapes the named resource into a descriptor.
func (a *Adapter) FetchMetadata(ctx context.Context, ref glossary.ResourceRef) (glossary.Resource, error) {
	pkgName, resourceKey := splitRefID(ref)
	pkg, err := a.fetchPackage(ctx, pkgName)
	if err != nil {
		return glossary.Resource{}, tagResource(err, ref)
	}
	return a.buildDescriptor(ref, pkgName, resourceKey, pkg)
}

func (a *Adapter) buildDescriptor(ref glossary.ResourceRef, pkgName, resourceKey string, pkg map[string]any) (glossary.Resource, error) {
	res := glossary.Resource{
		ID:          ref.ID,
		Portal:      a.cfg.ID,
		Name:        firstNonEmpty(stringField(pkg, "title"), ref.Name, pkgName),
		Format:      glossary.FormatUnknown,
		LandingPage: a.base + "/dataset/" + pkgName,
		Description: stringField(pkg, "notes"),
		Publisher:   publisher(pkg),
		License:     firstNonEmpty(stringField(pkg, "license_title"), stringField(pkg, "license_id")),
		Keywords:    tagNames(pkg),
		LastUpdated: parseTimestamp(stringField(pkg, "metadata_modified")),
		Raw:         pkg,
	}

	target, ok := pickResource(resourceList(pkg), resourceKey)
	if !ok {
		if ref.Kind == refKindResource {
			return glossary.Resource{}, &glossary.FetchError{
				Kind:     glossary.FetchNotFound,
				Portal:   a.cfg.ID,
				Resource: ref.ID,
				Name:     ref.Name,
				Err:      fmt.Errorf("resource %s no longer in package %s", resourceKey, pkgName),
			}
		}
		// Package emptied since listing. The landing page stands in so
		// the descriptor degrades instead of dropping.
		res.Endpoint = res.LandingPage
		return res, nil
	}

	if ref.Kind == refKindResource {
		res.Name = compositeName(res.Name, target)
	}
	res.Endpoint = stringField(target, "url")
	if res.Endpoint == "" {
		res.Endpoint = res.LandingPage
	}
	res.Format = resourceFormat(target)
	return res, nil
}

// packageSeq walks package_list lazily, expanding one package at a time
// as the caller drains it.
type packageSeq struct {
	adapter  *Adapter
	pageSize int
	offset   int
	done     bool
	names    []string
	refs     []glossary.ResourceRef
}

func (s *packageSeq) Next(ctx context.Context) (glossary.ResourceRef, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return glossary.ResourceRef{}, false, err
		}
		if len(s.refs) > 0 {
			ref := s.refs[0]
			s.refs = s.refs[1:]
			return ref, true, nil
		}
		if len(s.names) == 0 {
			if s.done {
				return glossary.ResourceRef{}, false, nil
			}
			if err := s.fetchNames(ctx); err != nil {
				return glossary.ResourceRef{}, false, err
			}
			continue
		}
		name := s.names[0]
		s.names = s.names[1:]
		refs, err := s.adapter.refsForPackage(ctx, name)
		if err != nil {
			return glossary.ResourceRef{}, false, err
		}
		s.refs = refs
	}
}

func (s *packageSeq) fetchNames(ctx context.Context) error {
	names, err := s.adapter.listPackages(ctx, s.offset, s.pageSize)
	if err != nil {
		return err
	}
	s.names = names
	s.offset += len(names)
	if s.pageSize <= 0 || len(names) < s.pageSize {
		s.done = true
	}
	return nil
}

// refsForPackage expands one package into references. Empty packages are
// skipped. A package whose metadata cannot be fetched still yields a
// bare reference so the fetch stage can retry it and record the failure;
// only cancellation aborts the traversal.
func (a *Adapter) refsForPackage(ctx context.Context, name string) ([]glossary.ResourceRef, error) {
	pkg, err := a.fetchPackage(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("package listing fetch failed, deferring to fetch stage",
			zap.String("portal", a.cfg.ID),
			zap.String("package", name),
			zap.Error(err))
		return []glossary.ResourceRef{{
			ID:   name,
			Name: name,
			Kind: refKindPackage,
			URL:  a.showURL(name),
		}}, nil
	}

	resources := resourceList(pkg)
	if len(resources) == 0 {
		a.logger.Debug("package has no resources, skipping",
			zap.String("portal", a.cfg.ID),
			zap.String("package", name))
		return nil, nil
	}

	title := firstNonEmpty(stringField(pkg, "title"), name)
	signal := stringField(pkg, "metadata_modified")
	if len(distinctStems(resources)) <= 1 {
		return []glossary.ResourceRef{{
			ID:     name,
			Name:   title,
			Kind:   refKindPackage,
			URL:    a.showURL(name),
			Signal: signal,
		}}, nil
	}

	refs := make([]glossary.ResourceRef, 0, len(resources))
	for i, res := range resources {
		refs = append(refs, glossary.ResourceRef{
			ID:     name + "/" + resourceKey(res, i),
			Name:   compositeName(title, res),
			Kind:   refKindResource,
			URL:    a.showURL(name),
			Signal: signal,
		})
	}
	return refs, nil
}

func (a *Adapter) listPackages(ctx context.Context, offset, pageSize int) ([]string, error) {
	listURL := a.base + "/api/3/action/package_list"
	if pageSize > 0 {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))
		listURL += "?" + q.Encode()
	}
	resp, err := a.client.Get(ctx, listURL, nil)
	if err != nil {
		return nil, err
	}
	result, err := a.decodeAction(resp.Body, "package_list")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(result, &names); err != nil {
		return nil, &glossary.FetchError{
			Kind:   glossary.FetchMalformed,
			Portal: a.cfg.ID,
			Err:    fmt.Errorf("decode package_list result: %w", err),
		}
	}
	return names, nil
}

func (a *Adapter) fetchPackage(ctx context.Context, name string) (map[string]any, error) {
	resp, err := a.client.Get(ctx, a.showURL(name), nil)
	if err != nil {
		return nil, err
	}
	result, err := a.decodeAction(resp.Body, "package_show")
	if err != nil {
		return nil, err
	}
	var pkg map[string]any
	if err := json.Unmarshal(result, &pkg); err != nil {
		return nil, &glossary.FetchError{
			Kind:   glossary.FetchMalformed,
			Portal: a.cfg.ID,
			Raw:    map[string]any{"body": string(resp.Body)},
			Err:    fmt.Errorf("decode package_show result: %w", err),
		}
	}
	return pkg, nil
}

type actionEnvelope struct {
	Success bool            `json:"success"`
	Error   map[string]any  `json:"error"`
	Result  json.RawMessage `json:"result"`
}

// decodeAction unwraps the action API envelope and checks its success
// flag, which CKAN can set to false even on a 200.
func (a *Adapter) decodeAction(body []byte, action string) (json.RawMessage, error) {
	var envelope actionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &glossary.FetchError{
			Kind:   glossary.FetchMalformed,
			Portal: a.cfg.ID,
			Raw:    map[string]any{"body": string(body)},
			Err:    fmt.Errorf("decode %s envelope: %w", action, err),
		}
	}
	if !envelope.Success {
		return nil, a.actionError(action, envelope.Error)
	}
	return envelope.Result, nil
}

// actionError maps a failed action envelope to a fetch error. CKAN
// spells missing objects as a "Not Found Error" type.
func (a *Adapter) actionError(action string, detail map[string]any) *glossary.FetchError {
	kind := glossary.FetchMalformed
	if t, _ := detail["__type"].(string); strings.Contains(t, "Not Found") {
		kind = glossary.FetchNotFound
	}
	return &glossary.FetchError{
		Kind:   kind,
		Portal: a.cfg.ID,
		Raw:    map[string]any{"error": detail},
		Err:    fmt.Errorf("%s action failed", action),
	}
}

func (a *Adapter) showURL(name string) string {
	return a.base + "/api/3/action/package_show?id=" + url.QueryEscape(name)
}

func splitRefID(ref glossary.ResourceRef) (pkg, resource string) {
	if ref.Kind != refKindResource {
		return ref.ID, ""
	}
	if i := strings.LastIndex(ref.ID, "/"); i >= 0 {
		return ref.ID[:i], ref.ID[i+1:]
	}
	return ref.ID, ""
}

// distinctStems collects the unique file stems the package's resource
// URLs point at, extensions stripped.
func distinctStems(resources []map[string]any) map[string]struct{} {
	stems := make(map[string]struct{})
	for _, res := range resources {
		u := stringField(res, "url")
		if u == "" {
			continue
		}
		stem, _, _ := strings.Cut(glossary.URLBasename(u), ".")
		stems[stem] = struct{}{}
	}
	return stems
}

func pickResource(resources []map[string]any, key string) (map[string]any, bool) {
	if len(resources) == 0 {
		return nil, false
	}
	if key == "" {
		return resources[0], true
	}
	for i, res := range resources {
		if stringField(res, "id") == key || strconv.Itoa(i) == key {
			return res, true
		}
	}
	return nil, false
}

func resourceKey(res map[string]any, index int) string {
	if id := stringField(res, "id"); id != "" {
		return id
	}
	return strconv.Itoa(index)
}

func compositeName(title string, res map[string]any) string {
	name := firstNonEmpty(stringField(res, "name"), glossary.URLBasename(stringField(res, "url")))
	if name == "" {
		return title
	}
	return title + " - " + name
}

// resourceFormat normalizes the resource's self-reported format label,
// falling back to the URL extension when the label says nothing.
func resourceFormat(res map[string]any) glossary.Format {
	if f := glossary.FormatFromLabel(stringField(res, "format")); f != glossary.FormatUnknown {
		return f
	}
	return glossary.FormatFromURL(stringField(res, "url"))
}

func resourceList(pkg map[string]any) []map[string]any {
	raw, ok := pkg["resources"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func publisher(pkg map[string]any) string {
	if org, ok := pkg["organization"].(map[string]any); ok {
		if title := stringField(org, "title"); title != "" {
			return title
		}
	}
	return stringField(pkg, "author")
}

func tagNames(pkg map[string]any) []string {
	raw, ok := pkg["tags"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, t := range raw {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if name := stringField(m, "name"); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return names
}

// ckanTimeLayouts covers the timestamp spellings the action API emits;
// metadata_modified usually arrives as a naive microsecond timestamp.
var ckanTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range ckanTimeLayouts {
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
