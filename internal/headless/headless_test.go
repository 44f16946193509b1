package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDetector_NeedsRender(t *testing.T) {
	t.Parallel()

	detector := NewDetector(0, nil)
	filler := strings.Repeat("content ", 200)

	require.True(t, detector.NeedsRender([]byte("<html></html>")), "tiny body is a script shell")
	require.True(t, detector.NeedsRender([]byte("<html><body>"+filler+"Please Enable JavaScript to view</body></html>")))
	require.False(t, detector.NeedsRender([]byte("<html><body>"+filler+"<a href='a.csv'>a</a></body></html>")))
}

func TestDetector_CustomThresholds(t *testing.T) {
	t.Parallel()

	detector := NewDetector(4, []string{"loading spinner"})
	require.False(t, detector.NeedsRender([]byte("<html><body>plain</body></html>")))
	require.True(t, detector.NeedsRender([]byte("<html><body>loading spinner</body></html>")))
}

func TestDownloadHrefFromHTML(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<a href="/about">About</a>
		<a href="/download/budget.pdf">Download</a>
		<a class="download" href="/alt.pdf">Alt</a>
	</body></html>`
	require.Equal(t, "/download/budget.pdf", downloadHrefFromHTML(page))

	classOnly := `<html><body><a class="download" href="/files/report.xlsx">Get it</a></body></html>`
	require.Equal(t, "/files/report.xlsx", downloadHrefFromHTML(classOnly))

	require.Empty(t, downloadHrefFromHTML(`<html><body><a href="/about">About</a></body></html>`))
}

func TestNewPager_Disabled(t *testing.T) {
	t.Parallel()

	_, err := NewPager(Config{MaxConcurrency: 0}, zap.NewNop())
	require.ErrorIs(t, err, ErrDisabled)
}

func TestPager_ResolveDownloadLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>`+
			`document.body.innerHTML = '<a href="/download/data.csv">Download</a>';`+
			`</script></body></html>`)
	}))
	defer srv.Close()

	pager, err := NewPager(Config{MaxConcurrency: 1, Timeout: 10 * time.Second}, zap.NewNop())
	if errors.Is(err, ErrDisabled) {
		t.Skip("pager disabled")
	}
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer pager.Close()

	link, err := pager.ResolveDownloadLink(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	require.Equal(t, srv.URL+"/download/data.csv", link)
}
