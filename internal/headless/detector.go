package headless

import (
	"bytes"
	"strings"
)

// DefaultMinHTMLBytes is the body size under which a page is assumed to
// be a script shell rather than real content.
const DefaultMinHTMLBytes = 512

var defaultKeywords = []string{
	"please enable javascript",
	"javascript is required",
	"requires javascript",
	"<noscript",
}

// Detector flags pages whose useful markup only appears after scripts
// run, using cheap HTML signals: a suspiciously small body or the usual
// script-shell phrases.
type Detector struct {
	minHTMLBytes int
	keywords     [][]byte
}

// NewDetector builds a detector. Non-positive minBytes and nil keywords
// fall back to the defaults.
func NewDetector(minBytes int, keywords []string) *Detector {
	if minBytes <= 0 {
		minBytes = DefaultMinHTMLBytes
	}
	if keywords == nil {
		keywords = defaultKeywords
	}
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &Detector{minHTMLBytes: minBytes, keywords: lowered}
}

// NeedsRender reports whether the page looks like a script shell.
func (d *Detector) NeedsRender(body []byte) bool {
	if d == nil {
		return false
	}
	if len(body) < d.minHTMLBytes {
		return true
	}
	lower := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return false
}
