package arcgis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

func TestAdapter_ListResources_ParsesFeed(t *testing.T) {
	t.Parallel()

	srv, _ := newFeedServer(t, feedFixture())
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	seq, err := adapter.ListResources(context.Background())
	require.NoError(t, err)

	refs := drainSeq(t, seq)
	require.Len(t, refs, 2)
	require.Equal(t, "https://data.example.gov/datasets/bike-lanes", refs[0].ID)
	require.Equal(t, "Bike Lanes", refs[0].Name)
	require.Equal(t, "dataset", refs[0].Kind)
	require.Equal(t, "https://hub.example.gov/datasets/bike-lanes", refs[0].URL)
	require.Equal(t, "2024-04-01", refs[0].Signal)
	require.Equal(t, "https://data.example.gov/datasets/parks", refs[1].ID)

	again, err := adapter.ListResources(context.Background())
	require.NoError(t, err)
	require.Equal(t, refs, drainSeq(t, again), "a fresh traversal repeats the feed order")
}

func TestAdapter_FetchMetadata_PrefersDownloadURL(t *testing.T) {
	t.Parallel()

	srv, _ := newFeedServer(t, feedFixture())
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	res, err := adapter.FetchMetadata(context.Background(), glossary.ResourceRef{
		ID:   "https://data.example.gov/datasets/bike-lanes",
		Name: "Bike Lanes",
	})
	require.NoError(t, err)

	require.Equal(t, "Bike Lanes", res.Name)
	require.Equal(t, "seattle", res.Portal)
	require.Equal(t, glossary.FormatTabular, res.Format)
	require.Equal(t, "https://data.example.gov/api/bike-lanes.csv", res.Endpoint,
		"a direct download beats an access URL listed first")
	require.Equal(t, "https://hub.example.gov/datasets/bike-lanes", res.LandingPage)
	require.Equal(t, "Dedicated bicycle lanes.", res.Description)
	require.Equal(t, "City GIS", res.Publisher)
	require.Equal(t, "https://creativecommons.org/licenses/by/4.0", res.License)
	require.Equal(t, []string{"bikes", "transportation"}, res.Keywords)
	require.NotNil(t, res.LastUpdated)
	require.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), res.LastUpdated.UTC())
	require.Equal(t, "Bike Lanes", res.Raw["title"])
}

func TestAdapter_FetchMetadata_AccessURLFallback(t *testing.T) {
	t.Parallel()

	srv, _ := newFeedServer(t, feedFixture())
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	res, err := adapter.FetchMetadata(context.Background(), glossary.ResourceRef{
		ID: "https://data.example.gov/datasets/parks",
	})
	require.NoError(t, err)

	require.Equal(t, glossary.FormatGeospatial, res.Format, "media type classifies when no format label exists")
	require.Equal(t, "https://data.example.gov/api/parks.geojson", res.Endpoint)
}

func TestAdapter_FetchMetadata_NoDistribution(t *testing.T) {
	t.Parallel()

	feed := map[string]any{
		"dataset": []any{
			map[string]any{
				"identifier":  "https://data.example.gov/datasets/plans",
				"title":       "Comprehensive Plans",
				"landingPage": "https://hub.example.gov/datasets/plans",
			},
		},
	}
	srv, _ := newFeedServer(t, feed)
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	res, err := adapter.FetchMetadata(context.Background(), glossary.ResourceRef{
		ID: "https://data.example.gov/datasets/plans",
	})
	require.NoError(t, err)

	require.Equal(t, glossary.FormatUnknown, res.Format)
	require.Equal(t, "https://hub.example.gov/datasets/plans", res.Endpoint,
		"landing page stands in when nothing is downloadable")
}

func TestAdapter_FetchMetadata_LoadsFeedOnDemand(t *testing.T) {
	t.Parallel()

	srv, hits := newFeedServer(t, feedFixture())
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	_, err := adapter.FetchMetadata(context.Background(), glossary.ResourceRef{
		ID: "https://data.example.gov/datasets/parks",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load(), "a cold fetch loads the feed exactly once")
}

func TestAdapter_FetchMetadata_UnknownDataset(t *testing.T) {
	t.Parallel()

	srv, hits := newFeedServer(t, feedFixture())
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	_, err := adapter.ListResources(context.Background())
	require.NoError(t, err)

	_, err = adapter.FetchMetadata(context.Background(), glossary.ResourceRef{ID: "nope", Name: "Nope"})
	require.Error(t, err)

	fe, ok := glossary.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, glossary.FetchNotFound, fe.Kind)
	require.Equal(t, "nope", fe.Resource)
	require.Equal(t, int64(2), hits.Load(), "a miss reloads the feed once before giving up")
}

func TestAdapter_ListResources_MalformedFeed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>portal upgrade in progress</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	_, err := adapter.ListResources(context.Background())
	require.Error(t, err)

	fe, ok := glossary.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, glossary.FetchMalformed, fe.Kind)
	require.Contains(t, fe.Raw["body"], "portal upgrade")
}

// --- fixtures ---

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	cfg := glossary.PortalConfig{
		ID:       "seattle",
		Platform: glossary.PlatformArcGIS,
		Endpoint: srv.URL,
	}
	client := fetch.New(cfg.ID, fetch.Config{}, nil)
	return New(cfg, client, zap.NewNop())
}

func newFeedServer(t *testing.T, feed map[string]any) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(feed))
	})
	return httptest.NewServer(mux), hits
}

func feedFixture() map[string]any {
	return map[string]any{
		"dataset": []any{
			map[string]any{
				"identifier":  "https://data.example.gov/datasets/bike-lanes",
				"title":       "Bike Lanes",
				"description": "Dedicated bicycle lanes.",
				"modified":    "2024-04-01",
				"license":     "https://creativecommons.org/licenses/by/4.0",
				"publisher":   map[string]any{"name": "City GIS"},
				"keyword":     []any{"bikes", "transportation"},
				"landingPage": "https://hub.example.gov/datasets/bike-lanes",
				"distribution": []any{
					map[string]any{
						"mediaType": "application/geo+json",
						"accessURL": "https://data.example.gov/api/bike-lanes.geojson",
					},
					map[string]any{
						"format":      "CSV",
						"downloadURL": "https://data.example.gov/api/bike-lanes.csv",
					},
				},
			},
			map[string]any{
				"identifier":  "https://data.example.gov/datasets/parks",
				"title":       "Parks",
				"modified":    "2024-02-15T08:00:00Z",
				"landingPage": "https://hub.example.gov/datasets/parks",
				"distribution": []any{
					map[string]any{
						"mediaType": "application/geo+json",
						"accessURL": "https://data.example.gov/api/parks.geojson",
					},
				},
			},
		},
	}
}

func drainSeq(t *testing.T, seq glossary.RefSeq) []glossary.ResourceRef {
	t.Helper()
	var refs []glossary.ResourceRef
	for {
		ref, ok, err := seq.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return refs
		}
		refs = append(refs, ref)
	}
}
