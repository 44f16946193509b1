// Package headless handles content that only exists after script
// execution. The pager drives headless Chrome to pull the real download
// href off rendered asset pages; the detector flags listing pages that
// would need the same treatment.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// ErrDisabled indicates the pager has been disabled via configuration.
var ErrDisabled = errors.New("headless pager disabled")

// Config controls the pager.
type Config struct {
	MaxConcurrency int
	Timeout        time.Duration
	UserAgent      string
}

// Pager renders asset pages in headless Chrome and extracts their
// download href. One browser process is shared; each resolution runs in
// its own tab under a concurrency cap.
type Pager struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	userAgent       string
}

// NewPager starts the shared browser. Callers must Close it.
func NewPager(cfg Config, logger *zap.Logger) (*Pager, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Pager{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		timeout:         cfg.Timeout,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the browser and allocator.
func (p *Pager) Close() error {
	if p == nil {
		return nil
	}
	p.browserCancel()
	p.allocatorCancel()
	return nil
}

// ResolveDownloadLink renders landingPage and returns the absolute URL
// of its download control.
func (p *Pager) ResolveDownloadLink(ctx context.Context, landingPage string) (string, error) {
	if p == nil {
		return "", ErrDisabled
	}

	release, err := p.acquireSlot(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(p.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, p.timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	html, err := p.renderPage(taskCtx, landingPage)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", landingPage, err)
	}

	href := downloadHrefFromHTML(html)
	if href == "" {
		return "", fmt.Errorf("no download link on %s", landingPage)
	}
	link, err := glossary.RerootLink(landingPage, href)
	if err != nil {
		return "", fmt.Errorf("reroot download href: %w", err)
	}
	p.logger.Debug("resolved download link",
		zap.String("landing_page", landingPage),
		zap.String("link", link))
	return link, nil
}

func (p *Pager) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (p *Pager) renderPage(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(userAgentOrDefault(p.userAgent)),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func userAgentOrDefault(ua string) string {
	if ua != "" {
		return ua
	}
	return "glossarizer"
}

// downloadSelectors are tried in order against the rendered page; the
// first match wins. Export buttons on asset pages link through a
// /download/ path or carry a download class.
var downloadSelectors = []string{
	"a[href*='/download/']",
	"a[data-testid='export-download-button']",
	"a.download",
}

func downloadHrefFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range downloadSelectors {
		if href, ok := doc.Find(sel).First().Attr("href"); ok {
			if href = strings.TrimSpace(href); href != "" {
				return href
			}
		}
	}
	return ""
}

// forwardCancel propagates cancellation of the caller's context into a
// chromedp task context without tying their lifetimes together.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
