package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/logger"
	"dizi-proxy/work/metrics"
	"dizi-proxy/work/parser"
	"dizi-proxy/work/sites"
	"dizi-proxy/work/types"
	"dizi-proxy/work/utils"
)

// PlaylistResponse is the outcome of a /stream/{token} request: either a
// playlist body to serve or an absolute URL to redirect the player to.
type PlaylistResponse struct {
	Body        string
	ContentType string
	RedirectURL string
}

// Playlist serves the entry point playlist for a token.
//
// Non-relay sites redirect the player straight to the direct stream URL
// picked by the site's field precedence; their origins accept bare
// requests. Relay sites are served through the proxy: synthesized master
// when variants are known, otherwise the captured or fetched playlist
// rewritten so every reference routes back here.
func (p *Proxy) Playlist(ctx context.Context, token string) (*PlaylistResponse, error) {
	entry, ok := p.Cache.Get(token)
	if !ok {
		return nil, apperr.NotFound("unknown or expired token")
	}
	result := entry.Result
	streamURL := sites.StreamURL(result)

	if !sites.IsRelay(result.Site) && streamURL != "" {
		logger.Debug("{proxy/stream.go - Playlist} Redirecting token %s to origin", utils.ShortToken(token))
		return &PlaylistResponse{RedirectURL: streamURL}, nil
	}

	if len(result.Variants) > 0 {
		body, err := parser.SynthesizeMaster(result, token, p.ProxyBase(), !p.Config.ExposeAllVariants)
		if err != nil {
			return nil, err
		}
		return &PlaylistResponse{Body: body, ContentType: parser.ContentTypeHLS}, nil
	}

	// A captured master that produced no variants (some origins only hand
	// out a media playlist) is still playable once routed through the
	// proxy.
	if result.RawMaster != "" {
		base := result.MasterURL
		if base == "" {
			base = result.PageURL
		}
		body, err := p.rewriteRelay(result.RawMaster, base, token)
		if err != nil {
			return nil, err
		}
		return &PlaylistResponse{Body: body, ContentType: parser.ContentTypeHLS}, nil
	}

	if streamURL == "" {
		return nil, apperr.Upstream(nil, "missing master URL")
	}

	text, err := p.fetchPlaylist(ctx, streamURL, result)
	if err != nil {
		return nil, err
	}
	body, err := p.rewriteRelay(text, streamURL, token)
	if err != nil {
		return nil, err
	}
	return &PlaylistResponse{Body: body, ContentType: parser.ContentTypeHLS}, nil
}

// VariantByIndex serves the media playlist for one variant of a token,
// rewritten so its segments route through the proxy. Inline playlists
// captured at resolution time are served without touching the origin.
func (p *Proxy) VariantByIndex(ctx context.Context, token string, index int) (string, error) {
	entry, ok := p.Cache.Get(token)
	if !ok {
		return "", apperr.NotFound("unknown or expired token")
	}
	result := entry.Result

	if index < 0 || index >= len(result.Variants) {
		return "", apperr.Client("variant index %d out of range", index)
	}
	v := &result.Variants[index]

	baseURL := v.URL
	if baseURL == "" {
		baseURL = result.MasterURL
	}

	var text string
	if v.HasInlinePlaylist() {
		text = v.Playlist
	} else {
		if v.URL == "" {
			return "", apperr.Upstream(nil, "variant %d has no playlist URL", index)
		}
		fetched, err := p.fetchPlaylist(ctx, v.URL, result)
		if err != nil {
			return "", err
		}
		text = fetched
	}

	return parser.RewriteVariantPlaylist(text, baseURL, token, p.ProxyBase())
}

// VariantBySource serves a relay child playlist addressed by origin URL,
// produced by a rewritten relay master. The URL is validated before any
// fetch so the endpoint cannot be steered at arbitrary schemes.
func (p *Proxy) VariantBySource(ctx context.Context, token string, srcURL string) (string, error) {
	entry, ok := p.Cache.Get(token)
	if !ok {
		return "", apperr.NotFound("unknown or expired token")
	}
	if err := validateOriginURL(srcURL); err != nil {
		return "", err
	}

	text, err := p.fetchPlaylist(ctx, srcURL, entry.Result)
	if err != nil {
		return "", err
	}
	return p.rewriteRelay(text, srcURL, token)
}

// rewriteRelay routes a fetched relay playlist back through the proxy,
// handling both master and media shapes. Relay origins sometimes nest a
// master inside what the site called the stream URL.
func (p *Proxy) rewriteRelay(text, baseURL, token string) (string, error) {
	if parser.IsMasterPlaylist(text) {
		return parser.RewriteMasterByURL(text, baseURL, token, p.ProxyBase())
	}
	return parser.RewriteVariantPlaylist(text, baseURL, token, p.ProxyBase())
}

// fetchPlaylist fetches playlist text from the origin with the session's
// headers, caching bodies briefly so concurrent players and the prefetch
// path share one upstream request.
func (p *Proxy) fetchPlaylist(ctx context.Context, playlistURL string, result *types.ResolutionResult) (string, error) {
	if text, ok := p.playlists.GetIfPresent(playlistURL); ok {
		return text, nil
	}

	p.limiterFor(result.Site).Take()

	req, err := p.client.NewRequest(ctx, playlistURL, result)
	if err != nil {
		return "", apperr.Internal(err, "building playlist request")
	}
	resp, err := p.client.DoMetadata(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(result.Site, "fetch").Inc()
		return "", apperr.Upstream(err, "fetching playlist from %s", utils.LogURL(p.Config, playlistURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamErrors.WithLabelValues(result.Site, "status").Inc()
		return "", apperr.Upstream(nil, "origin returned %d for playlist", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(result.Site, "fetch").Inc()
		return "", apperr.Upstream(err, "reading playlist body")
	}
	text := string(body)
	if !strings.HasPrefix(strings.TrimSpace(text), "#EXTM3U") {
		metrics.UpstreamErrors.WithLabelValues(result.Site, "parse").Inc()
		return "", apperr.Upstream(nil, "origin response is not an HLS playlist")
	}

	p.playlists.Set(playlistURL, text)
	return text, nil
}

// hopHeaders never copy through to the client; the proxy re-frames the
// body itself. Everything else the origin sends is replayed as-is.
var hopHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
}

// Segment streams one media segment to the client, replaying the session
// headers upstream and the client's Range header when present. The
// transfer aborts when the client disconnects.
func (p *Proxy) Segment(ctx context.Context, w http.ResponseWriter, r *http.Request, token string, segmentURL string) error {
	entry, ok := p.Cache.Get(token)
	if !ok {
		return apperr.NotFound("unknown or expired token")
	}
	result := entry.Result

	if err := validateOriginURL(segmentURL); err != nil {
		return err
	}

	req, err := p.client.NewRequest(ctx, segmentURL, result)
	if err != nil {
		return apperr.Internal(err, "building segment request")
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := p.client.DoStreaming(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(result.Site, "fetch").Inc()
		return apperr.Upstream(err, "fetching segment from %s", utils.LogURL(p.Config, segmentURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.UpstreamErrors.WithLabelValues(result.Site, "status").Inc()
		return apperr.Upstream(nil, "origin returned %d for segment", resp.StatusCode)
	}

	for name, values := range resp.Header {
		if hopHeaders[name] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "video/mp2t")
	}
	w.WriteHeader(resp.StatusCode)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	written, err := io.CopyBuffer(w, resp.Body, *buf)
	metrics.SegmentsServed.WithLabelValues(result.Site).Inc()
	metrics.BytesTransferred.WithLabelValues(result.Site).Add(float64(written))
	if err != nil {
		// Headers are gone; the usual cause is the player seeking away.
		logger.Debug("{proxy/stream.go - Segment} Transfer for token %s ended after %d bytes: %v",
			utils.ShortToken(token), written, err)
	}
	return nil
}

// validateOriginURL rejects anything but absolute http(s) URLs before the
// proxy will fetch it on a client's behalf.
func validateOriginURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Client("invalid origin url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Client("origin url must be absolute http(s)")
	}
	return nil
}
