// Package filelisting glossarizes ad-hoc department pages that publish
// data as a plain list of file links. There is no catalog API: listing
// scrapes anchors off the page, and metadata comes from probing each
// link for its content type and size.
package filelisting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossary"
	"github.com/urban-physiology/glossarizer/internal/headless"
)

// Adapter crawls one file-listing page.
type Adapter struct {
	cfg      glossary.PortalConfig
	client   *fetch.Client
	logger   *zap.Logger
	detector *headless.Detector
}

// New builds an adapter for the listing described by cfg. The endpoint
// is the listing page itself; cfg.Listing scopes link extraction and
// cfg.Filters drops links by substring.
func New(cfg glossary.PortalConfig, client *fetch.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		detector: headless.NewDetector(0, nil),
	}
}

// Platform identifies the adapter variant.
func (a *Adapter) Platform() glossary.PlatformKind {
	return glossary.PlatformFileListing
}

// ListResources fetches the listing page and yields one reference per
// extracted link, in document order with duplicates removed.
func (a *Adapter) ListResources(ctx context.Context) (glossary.RefSeq, error) {
	resp, err := a.client.Get(ctx, a.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	links, err := a.extractLinks(resp.Body)
	if err != nil {
		return nil, &glossary.FetchError{
			Kind:   glossary.FetchMalformed,
			Portal: a.cfg.ID,
			Err:    fmt.Errorf("parse listing page: %w", err),
		}
	}
	if len(links) == 0 && a.detector.NeedsRender(resp.Body) {
		a.logger.Warn("listing page looks script-rendered; its links need a headless fetch",
			zap.String("portal", a.cfg.ID),
			zap.String("endpoint", a.cfg.Endpoint))
	}

	refs := make([]glossary.ResourceRef, 0, len(links))
	for _, link := range links {
		refs = append(refs, glossary.ResourceRef{
			ID:   link,
			Name: linkName(link),
			Kind: "file",
			URL:  link,
		})
	}
	return glossary.NewSliceSeq(refs), nil
}

// FetchMetadata probes one link for its content type and size. Servers
// that reject HEAD get a GET instead.
func (a *Adapter) FetchMetadata(ctx context.Context, ref glossary.ResourceRef) (glossary.Resource, error) {
	probe, err := a.probe(ctx, ref)
	if err != nil {
		return glossary.Resource{}, tagResource(err, ref)
	}
	return a.buildDescriptor(ref, probe), nil
}

func (a *Adapter) buildDescriptor(ref glossary.ResourceRef, probe probeResult) glossary.Resource {
	res := glossary.Resource{
		ID:       ref.ID,
		Portal:   a.cfg.ID,
		Name:     ref.Name,
		Format:   linkFormat(ref.URL, probe.contentType),
		Endpoint: ref.URL,
		Raw: map[string]any{
			"mimetype":    probe.contentType,
			"filesize":    probe.contentLength,
			"probe":       probe.method,
			"source_page": a.cfg.Endpoint,
		},
	}
	if isHTMLPage(ref.URL, probe.contentType) {
		// An HTML response is a page about the data, not the data
		// itself. Keep it discoverable but unclassified.
		res.Format = glossary.FormatUnknown
		res.LandingPage = ref.URL
	}
	return res
}

// extractLinks pulls anchor hrefs from the configured scope, reroots
// them against the listing URL, applies the substring filters, and
// deduplicates while preserving first-seen order.
func (a *Adapter) extractLinks(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	scope := doc.Selection
	if a.cfg.Listing != "" {
		scope = doc.Find(a.cfg.Listing)
	}

	var links []string
	seen := make(map[string]struct{})
	scope.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if skipHref(href) {
			return
		}
		link, err := glossary.RerootLink(a.cfg.Endpoint, href)
		if err != nil {
			a.logger.Debug("unparseable listing href",
				zap.String("portal", a.cfg.ID),
				zap.String("href", href))
			return
		}
		if link == a.cfg.Endpoint || a.excluded(link) {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:")
}

func (a *Adapter) excluded(link string) bool {
	for _, f := range a.cfg.Filters {
		if f != "" && strings.Contains(link, f) {
			return true
		}
	}
	return false
}

type probeResult struct {
	contentType   string
	contentLength int64
	method        string
}

func (a *Adapter) probe(ctx context.Context, ref glossary.ResourceRef) (probeResult, error) {
	resp, err := a.client.Head(ctx, ref.URL)
	if err != nil {
		if fe, ok := glossary.AsFetchError(err); ok && headRejected(fe.StatusCode) {
			return a.probeGet(ctx, ref)
		}
		return probeResult{}, err
	}
	return probeFromResponse(resp, http.MethodHead), nil
}

func (a *Adapter) probeGet(ctx context.Context, ref glossary.ResourceRef) (probeResult, error) {
	resp, err := a.client.Get(ctx, ref.URL, nil)
	if err != nil {
		return probeResult{}, err
	}
	probe := probeFromResponse(resp, http.MethodGet)
	if probe.contentLength <= 0 {
		probe.contentLength = int64(len(resp.Body))
	}
	return probe, nil
}

func headRejected(status int) bool {
	return status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}

func probeFromResponse(resp fetch.Response, method string) probeResult {
	length, _ := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64)
	return probeResult{
		contentType:   resp.Headers.Get("Content-Type"),
		contentLength: length,
		method:        method,
	}
}

// linkFormat classifies by URL extension first; the reported content
// type only decides when the URL says nothing.
func linkFormat(link, contentType string) glossary.Format {
	if f := glossary.FormatFromURL(link); f != glossary.FormatUnknown {
		return f
	}
	return glossary.FormatFromMIME(contentType)
}

func isHTMLPage(link, contentType string) bool {
	media := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(media, ';'); i >= 0 {
		media = strings.TrimSpace(media[:i])
	}
	if media == "text/html" || media == "application/xhtml+xml" {
		return true
	}
	switch linkExt(link) {
	case "htm", "html":
		return true
	}
	return false
}

func linkExt(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

func linkName(link string) string {
	name := glossary.URLBasename(link)
	if name == "" || name == "." || name == "/" {
		return link
	}
	return name
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
