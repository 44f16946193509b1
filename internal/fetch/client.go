// Package fetch provides the shared HTTP client platform adapters use to
// talk to portals. It wraps a colly collector so every request gets the
// same transport, user agent, timeout, and pacing regardless of which
// adapter issues it.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Throttle gates outgoing requests. The orchestrator owns the concrete
// token bucket; adapters stay ignorant of pacing.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls client behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Response is the raw result of one portal request.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client issues GET and HEAD requests against one portal. Failures come
// back as *glossary.FetchError so callers can branch on kind.
type Client struct {
	portal   string
	cfg      Config
	throttle Throttle
	base     *colly.Collector
}

// New builds a Client for the named portal. throttle may be nil.
func New(portal string, cfg Config, throttle Throttle) *Client {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	// Error statuses must reach the response hook so they can be
	// classified instead of surfacing as bare colly errors.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Client{
		portal:   portal,
		cfg:      cfg,
		throttle: throttle,
		base:     c,
	}
}

// Get fetches rawURL and returns the response. A non-2xx status yields
// both the response and a *glossary.FetchError classified from it.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	return c.do(ctx, rawURL, headers, false)
}

// Head issues a HEAD request, used to size listing links without pulling
// their bodies.
func (c *Client) Head(ctx context.Context, rawURL string) (Response, error) {
	return c.do(ctx, rawURL, nil, true)
}

func (c *Client) do(ctx context.Context, rawURL string, headers http.Header, head bool) (Response, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, rawURL); err != nil {
			return Response{}, fmt.Errorf("throttle: %w", err)
		}
	}

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := c.buildCollector(headers, start, &result, &fetchErr)

	if err := c.runCollector(ctx, collector, rawURL, head, &fetchErr); err != nil {
		return Response{}, &glossary.FetchError{
			Kind:   glossary.FetchUnreachable,
			Portal: c.portal,
			Err:    err,
		}
	}
	if result.StatusCode >= 400 {
		return result, &glossary.FetchError{
			Kind:       glossary.KindForStatus(result.StatusCode),
			Portal:     c.portal,
			StatusCode: result.StatusCode,
			Err:        fmt.Errorf("portal returned %s", http.StatusText(result.StatusCode)),
		}
	}
	return result, nil
}

func (c *Client) buildCollector(headers http.Header, start time.Time, result *Response, fetchErr *error) *colly.Collector {
	collector := c.base.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
	return collector
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, head bool, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		if head {
			done <- collector.Head(rawURL)
		} else {
			done <- collector.Visit(rawURL)
		}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
