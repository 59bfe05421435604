package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dizi-proxy/work/catalog"
	"dizi-proxy/work/config"
	"dizi-proxy/work/proxy"
	"dizi-proxy/work/types"
)

// stubScraper returns a fixed resolution for every page URL.
type stubScraper struct {
	result *types.ResolutionResult
}

func (s *stubScraper) Resolve(ctx context.Context, pageURL, site string, headless, quiet bool) (*types.ResolutionResult, error) {
	copied := *s.result
	return &copied, nil
}

func newTestRouter(t *testing.T, store catalog.Store, result *types.ResolutionResult) *mux.Router {
	t.Helper()
	cfg := &config.Config{
		BaseURL:           "http://localhost:8080",
		Port:              8080,
		TokenTTL:          5 * time.Minute,
		ExposeAllVariants: true,
		MetadataTimeout:   5 * time.Second,
		ResolveTimeout:    5 * time.Second,
		PlaylistCacheTTL:  time.Minute,
		PlaylistCacheSize: 16,
		SiteRateLimit:     1000,
		BufferSizeKB:      64,
		WorkerThreads:     2,
		LogLevel:          "error",
	}
	if store == nil {
		store = catalog.NewMemory()
	}
	p, err := proxy.New(cfg, store, &stubScraper{result: result})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	router := mux.NewRouter()
	Register(router, p)
	return router
}

func defaultResult() *types.ResolutionResult {
	return &types.ResolutionResult{
		Site: "dizilla",
		Variants: []types.Variant{
			{Quality: "1080p", Resolution: "1920x1080", URL: "https://cdn.example/1080.m3u8", Playlist: "#EXTM3U\n#EXTINF:4,\nseg1.ts\n"},
		},
	}
}

func doJSON(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestResolveRequiresExactlyOneTarget(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())

	rec := doJSON(router, "POST", "/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, "POST", "/resolve", `{"id":"a","url":"https://dizilla40.com/ep/1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, "POST", "/resolve", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveMintsToken(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())

	rec := doJSON(router, "POST", "/resolve", `{"url":"https://dizilla40.com/ep/1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token       string `json:"token"`
		ExpiresAt   string `json:"expiresAt"`
		ProxyUrl    string `json:"proxyUrl"`
		RedirectUrl string `json:"redirectUrl"`
		Resolver    string `json:"resolver"`
		Cached      bool   `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "/stream/"+body.Token, body.ProxyUrl)
	assert.Equal(t, "http://localhost:8080/stream/"+body.Token, body.RedirectUrl)
	assert.Equal(t, "dizilla", body.Resolver)
	assert.False(t, body.Cached)

	parsed, err := time.Parse(time.RFC3339, body.ExpiresAt)
	require.NoError(t, err)
	assert.True(t, parsed.After(time.Now()))
}

func TestResolveUnsupportedSiteIs400(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())
	rec := doJSON(router, "POST", "/resolve", `{"url":"https://example.com/watch/1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported site")
}

func TestStreamUnknownTokenIs404(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())
	rec := doJSON(router, "GET", "/stream/deadbeef", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestStreamServesMasterPlaylist(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())

	rec := doJSON(router, "POST", "/resolve", `{"url":"https://dizilla40.com/ep/1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	rec = doJSON(router, "GET", "/stream/"+body.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "#EXT-X-STREAM-INF")
}

func TestStreamFormatJSON(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())

	rec := doJSON(router, "POST", "/resolve", `{"url":"https://dizilla40.com/ep/1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	rec = doJSON(router, "GET", "/stream/"+body.Token+"?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), body.Token)
}

func TestPlayResolvesThroughCatalog(t *testing.T) {
	store := catalog.NewMemory()
	store.Put(types.CatalogEntry{
		ID:    "show-1-1",
		Title: "Show",
		Sources: []types.CatalogSourceLink{
			{Site: "dizilla", URL: "https://dizilla40.com/ep/1", Priority: 1},
		},
	})
	router := newTestRouter(t, store, defaultResult())

	rec := doJSON(router, "GET", "/play/show-1-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#EXT-X-STREAM-INF")

	rec = doJSON(router, "GET", "/play/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlayJSONCarriesFallbackTrail(t *testing.T) {
	store := catalog.NewMemory()
	store.Put(types.CatalogEntry{
		ID:    "show-2-1",
		Title: "Show",
		Sources: []types.CatalogSourceLink{
			{Site: "nosuchsite", URL: "https://nosuchsite.example/ep/1", Priority: 1},
			{Site: "dizilla", URL: "https://dizilla40.com/ep/1", Priority: 2},
		},
	})
	router := newTestRouter(t, store, defaultResult())

	rec := doJSON(router, "GET", "/play/show-2-1?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string   `json:"token"`
		Trail []string `json:"trail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	require.Len(t, body.Trail, 1)
	assert.Contains(t, body.Trail[0], "source 1")
	assert.Contains(t, body.Trail[0], "unsupported site")

	// a cache hit has no fallback chain behind it
	rec = doJSON(router, "GET", "/play/show-2-1?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body.Trail = nil // trail is omitempty, so unmarshal won't clear the previous value
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Trail)
}

func TestProxyRequiresVariantOrSrc(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())
	rec := doJSON(router, "GET", "/proxy/sometoken", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, "GET", "/proxy/sometoken?variant=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSegmentRequiresSegmentParam(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())
	rec := doJSON(router, "GET", "/proxy/sometoken/segment.ts", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, nil, defaultResult())
	rec := doJSON(router, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cacheSize")
}

func TestCatalogList(t *testing.T) {
	store := catalog.NewMemory()
	store.Put(types.CatalogEntry{ID: "show-1", Title: "Show"})
	router := newTestRouter(t, store, defaultResult())

	rec := doJSON(router, "GET", "/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "show-1")
}
