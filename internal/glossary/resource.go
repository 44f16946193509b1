package glossary

import (
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"
)

// Format classifies what kind of data a resource endpoint serves.
type Format string

// Format values a descriptor may carry. Normalization is total: anything
// that cannot be classified degrades to FormatUnknown instead of failing.
const (
	FormatTabular    Format = "tabular"
	FormatGeospatial Format = "geospatial"
	FormatDocument   Format = "document"
	FormatAPI        Format = "api"
	FormatUnknown    Format = "unknown"
)

// Valid reports whether f is one of the enumerated format kinds.
func (f Format) Valid() bool {
	switch f {
	case FormatTabular, FormatGeospatial, FormatDocument, FormatAPI, FormatUnknown:
		return true
	}
	return false
}

// Resource is the unified descriptor emitted for one discoverable dataset
// or data-bearing endpoint. Once emitted for a crawl pass it is immutable;
// a later pass supersedes it by re-emission under the same ID.
type Resource struct {
	ID          string         `json:"id"`
	Portal      string         `json:"portal"`
	Name        string         `json:"name"`
	Format      Format         `json:"format"`
	Endpoint    string         `json:"endpoint"`
	LandingPage string         `json:"landing_page,omitempty"`
	Description string         `json:"description,omitempty"`
	Publisher   string         `json:"publisher,omitempty"`
	License     string         `json:"license,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
	Hash        string         `json:"hash,omitempty"`
}

// CanonicalBytes serializes the descriptor for content hashing. The hash
// field itself is excluded so the digest depends only on source metadata;
// encoding/json emits struct fields in declaration order and map keys
// sorted, which keeps the byte form stable for identical input.
func (r Resource) CanonicalBytes() ([]byte, error) {
	r.Hash = ""
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("canonicalize descriptor %s: %w", r.ID, err)
	}
	return data, nil
}

// Validate checks the invariants every emitted descriptor must satisfy.
func (r Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("descriptor missing id")
	}
	if r.Portal == "" {
		return fmt.Errorf("descriptor %s missing portal", r.ID)
	}
	if !r.Format.Valid() {
		return fmt.Errorf("descriptor %s has format %q outside the enumerated set", r.ID, r.Format)
	}
	return nil
}

var extensionFormats = map[string]Format{
	"csv":     FormatTabular,
	"tsv":     FormatTabular,
	"xls":     FormatTabular,
	"xlsx":    FormatTabular,
	"ods":     FormatTabular,
	"json":    FormatTabular,
	"parquet": FormatTabular,
	"geojson": FormatGeospatial,
	"shp":     FormatGeospatial,
	"kml":     FormatGeospatial,
	"kmz":     FormatGeospatial,
	"gml":     FormatGeospatial,
	"gpkg":    FormatGeospatial,
	"gdb":     FormatGeospatial,
	"pdf":     FormatDocument,
	"doc":     FormatDocument,
	"docx":    FormatDocument,
	"ppt":     FormatDocument,
	"pptx":    FormatDocument,
	"txt":     FormatDocument,
	"rtf":     FormatDocument,
	"md":      FormatDocument,
	"xml":     FormatDocument,
	"rdf":     FormatDocument,
}

// FormatFromLabel normalizes a source-reported format string (a CKAN
// resource format field, a DCAT format, a bare file extension) to the
// enumerated set. It never fails; unclassifiable labels map to unknown.
func FormatFromLabel(label string) Format {
	token := strings.ToLower(strings.TrimSpace(label))
	token = strings.TrimPrefix(token, ".")
	if token == "" {
		return FormatUnknown
	}
	switch token {
	case "api", "rest", "esri rest", "odata", "wms", "wfs", "wmts", "rss", "atom":
		return FormatAPI
	case "shapefile", "geo":
		return FormatGeospatial
	}
	if f, ok := extensionFormats[token]; ok {
		return f
	}
	return FormatFromMIME(token)
}

// FormatFromURL classifies a resource by the extension of its URL path.
func FormatFromURL(rawURL string) Format {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(urlPath(rawURL))), ".")
	if ext == "" {
		return FormatUnknown
	}
	if f, ok := extensionFormats[ext]; ok {
		return f
	}
	return FormatUnknown
}

// FormatFromMIME classifies a Content-Type header value. Parameters such
// as charset are stripped before lookup. text/html deliberately maps to
// unknown: an HTML response is a landing page, not the data itself.
func FormatFromMIME(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "text/csv", "text/tab-separated-values", "application/json", "application/vnd.ms-excel":
		return FormatTabular
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatTabular
	case "application/geo+json", "application/vnd.geo+json", "application/vnd.google-earth.kml+xml":
		return FormatGeospatial
	case "application/pdf", "application/msword", "text/plain", "application/xml", "text/xml", "application/rdf+xml":
		return FormatDocument
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDocument
	}
	return FormatUnknown
}
