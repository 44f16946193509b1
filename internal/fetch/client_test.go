package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

type recordingThrottle struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *recordingThrottle) Wait(_ context.Context, rawURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, rawURL)
	return r.err
}

func TestClientGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New("test-portal", Config{UserAgent: "glossarizer-test"}, nil)
	resp, err := client.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	require.Positive(t, resp.Duration)
}

func TestClientGetForwardsHeaders(t *testing.T) {
	t.Parallel()

	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-App-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New("test-portal", Config{}, nil)
	_, err := client.Get(context.Background(), srv.URL, http.Header{"X-App-Token": []string{"secret"}})
	require.NoError(t, err)
	require.Equal(t, "secret", gotToken)
}

func TestClientGetStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		kind   glossary.FetchKind
	}{
		{name: "missing resource", status: http.StatusNotFound, kind: glossary.FetchNotFound},
		{name: "gone resource", status: http.StatusGone, kind: glossary.FetchNotFound},
		{name: "throttled", status: http.StatusTooManyRequests, kind: glossary.FetchRateLimited},
		{name: "server error", status: http.StatusInternalServerError, kind: glossary.FetchUnreachable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			client := New("test-portal", Config{}, nil)
			resp, err := client.Get(context.Background(), srv.URL, nil)
			require.Error(t, err)

			fe, ok := glossary.AsFetchError(err)
			require.True(t, ok)
			require.Equal(t, tc.kind, fe.Kind)
			require.Equal(t, tc.status, fe.StatusCode)
			require.Equal(t, "test-portal", fe.Portal)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestClientGetTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := New("test-portal", Config{}, nil)
	_, err := client.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	fe, ok := glossary.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, glossary.FetchUnreachable, fe.Kind)
	require.Zero(t, fe.StatusCode)
}

func TestClientThrottle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	throttle := &recordingThrottle{}
	client := New("test-portal", Config{}, throttle)

	_, err := client.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL, srv.URL}, throttle.urls)
}

func TestClientThrottleError(t *testing.T) {
	t.Parallel()

	throttle := &recordingThrottle{err: context.Canceled}
	client := New("test-portal", Config{}, throttle)

	_, err := client.Get(context.Background(), "http://example.invalid", nil)
	require.ErrorIs(t, err, context.Canceled)
	_, ok := glossary.AsFetchError(err)
	require.False(t, ok, "throttle errors are not fetch failures")
}

func TestClientHead(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Length", "42")
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New("test-portal", Config{}, nil)
	resp, err := client.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "text/csv", resp.Headers.Get("Content-Type"))
	require.Empty(t, resp.Body)
}

func TestClientContextCancellation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := New("test-portal", Config{Timeout: 30 * time.Second}, nil)
	_, err := client.Get(ctx, srv.URL, nil)
	require.Error(t, err)

	fe, ok := glossary.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, glossary.FetchUnreachable, fe.Kind)
}
