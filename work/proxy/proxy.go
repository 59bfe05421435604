// Package proxy is the orchestration core: it turns page URLs and catalog
// IDs into cached resolution tokens, and serves the playlists and segments
// those tokens address.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/singleflight"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/buffer"
	"dizi-proxy/work/cache"
	"dizi-proxy/work/catalog"
	"dizi-proxy/work/client"
	"dizi-proxy/work/config"
	"dizi-proxy/work/logger"
	"dizi-proxy/work/metrics"
	"dizi-proxy/work/parser"
	"dizi-proxy/work/scraper"
	"dizi-proxy/work/selector"
	"dizi-proxy/work/sites"
	"dizi-proxy/work/types"
	"dizi-proxy/work/utils"
)

// Proxy wires the resolution cache, the resolver sidecar, the catalog and
// the upstream HTTP clients together behind the handler layer.
type Proxy struct {
	Config  *config.Config
	Cache   *cache.ResolutionCache
	Catalog catalog.Store

	scraper   scraper.Scraper
	client    *client.SessionClient
	playlists *otter.Cache[string, string]
	limiters  *xsync.MapOf[string, ratelimit.Limiter]
	workers   *ants.Pool
	resolveSF singleflight.Group
	buffers   *buffer.Pool
	stop      chan struct{}
}

// New builds a Proxy from its collaborators.
func New(cfg *config.Config, store catalog.Store, sc scraper.Scraper) (*Proxy, error) {
	workers, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	playlists := otter.Must(&otter.Options[string, string]{
		MaximumSize:      cfg.PlaylistCacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, string](cfg.PlaylistCacheTTL),
	})

	return &Proxy{
		Config:    cfg,
		Cache:     cache.New(cfg.TokenTTL),
		Catalog:   store,
		scraper:   sc,
		client:    client.New(cfg.MetadataTimeout),
		playlists: playlists,
		limiters:  xsync.NewMapOf[string, ratelimit.Limiter](),
		workers:   workers,
		buffers:   buffer.NewPool(cfg.BufferSizeKB),
		stop:      make(chan struct{}),
	}, nil
}

// Start launches the background sweep loop. Expiry is enforced lazily on
// every lookup; the sweep only reclaims memory for tokens nobody asks for
// again.
func (p *Proxy) Start() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := p.workers.Submit(func() {
					p.Cache.Sweep()
					metrics.TokensActive.Set(float64(p.Cache.Size()))
				}); err != nil {
					logger.Warn("{proxy/proxy.go - Start} Sweep submit failed: %v", err)
				}
			}
		}
	}()
}

// Close stops background work and releases the worker pool.
func (p *Proxy) Close() {
	close(p.stop)
	p.workers.Release()
}

// ProxyBase returns the absolute base URL written into synthesized and
// rewritten playlists. An external proxy front, when configured, replaces
// the scheme and host the app would otherwise advertise.
func (p *Proxy) ProxyBase() string {
	base := p.Config.BaseURL
	if p.Config.ExternalProxyURL != "" {
		base = p.Config.ExternalProxyURL
	}
	return strings.TrimRight(base, "/")
}

// limiterFor returns the per-site upstream rate limiter, creating it on
// first use.
func (p *Proxy) limiterFor(site string) ratelimit.Limiter {
	if site == "" {
		site = "unknown"
	}
	limiter, _ := p.limiters.LoadOrCompute(site, func() ratelimit.Limiter {
		return ratelimit.New(p.Config.SiteRateLimit)
	})
	return limiter
}

// ResolveOptions tweak a single resolution request. Zero value means
// normal operation: serve from cache when possible, headless quiet
// browser on a miss.
type ResolveOptions struct {
	Fresh    bool // bypass the cache fast path and force a re-resolution
	Headed   bool // run the sidecar browser with a visible window
	Verbose  bool // ask the sidecar for verbose resolution logging
	SiteHint string
}

// Resolve turns an episode page URL into a cached resolution token. A
// cache hit by URL returns immediately and slides the token's expiry;
// misses coalesce through singleflight so concurrent requests for the
// same page trigger one sidecar resolution.
func (p *Proxy) Resolve(ctx context.Context, pageURL string, opts ResolveOptions) (*cache.Entry, bool, error) {
	site := opts.SiteHint
	if site == "" {
		site = sites.Detect(pageURL)
	}
	if !sites.Supported(site) {
		return nil, false, apperr.Client("unsupported site for url %s", utils.LogURL(p.Config, pageURL))
	}

	if !opts.Fresh {
		if entry, ok := p.Cache.Lookup(cache.URLKey(pageURL)); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			metrics.Resolutions.WithLabelValues(site, "hit").Inc()
			return entry, true, nil
		}
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := p.resolveSF.Do("url:"+pageURL, func() (any, error) {
		if !opts.Fresh {
			if entry, ok := p.Cache.Lookup(cache.URLKey(pageURL)); ok {
				return entry, nil
			}
		}
		return p.resolveAndStore(ctx, pageURL, site, nil, opts)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*cache.Entry), false, nil
}

// playOutcome pairs a successful fallback resolution with the trail of
// sources that failed before it.
type playOutcome struct {
	entry *cache.Entry
	trail []string
}

// Play resolves a catalog ID by walking its sources in priority order
// until one of them yields a playable resolution. The returned trail
// names every source that failed before the winning one; on total
// failure the same trail rides the error instead.
func (p *Proxy) Play(ctx context.Context, id string, opts ResolveOptions) (*cache.Entry, []string, bool, error) {
	if !opts.Fresh {
		if entry, ok := p.Cache.Lookup(cache.CatalogKey(id)); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return entry, nil, true, nil
		}
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := p.resolveSF.Do("id:"+id, func() (any, error) {
		if !opts.Fresh {
			if entry, ok := p.Cache.Lookup(cache.CatalogKey(id)); ok {
				return &playOutcome{entry: entry}, nil
			}
		}
		return p.playMiss(ctx, id, opts)
	})
	if err != nil {
		return nil, nil, false, err
	}
	outcome := v.(*playOutcome)
	return outcome.entry, outcome.trail, false, nil
}

// playMiss walks the catalog sources for id, trying each in order.
func (p *Proxy) playMiss(ctx context.Context, id string, opts ResolveOptions) (*playOutcome, error) {
	catEntry, err := p.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(catEntry.Sources) == 0 {
		return nil, apperr.NotFound("no sources configured for content %q", id)
	}

	var trail []string
	for i, src := range catEntry.Sources {
		label := fmt.Sprintf("source %d (%s)", i+1, src.Site)
		if !sites.Supported(src.Site) {
			trail = append(trail, label+": unsupported site")
			continue
		}
		if src.URL == "" {
			trail = append(trail, label+": missing page URL")
			continue
		}

		keys := []cache.ContentKey{cache.CatalogKey(id), cache.CatalogSiteKey(id, src.Site)}
		entry, err := p.resolveAndStore(ctx, src.URL, src.Site, keys, opts)
		if err != nil {
			logger.Warn("{proxy/proxy.go - playMiss} %s failed for %s: %v", label, id, err)
			trail = append(trail, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		logger.Info("{proxy/proxy.go - playMiss} Resolved %s via %s", id, label)
		return &playOutcome{entry: entry, trail: trail}, nil
	}

	return nil, apperr.UpstreamTrail(trail, "all sources failed for %q", id)
}

// resolveAndStore performs one sidecar resolution, enriches and ranks the
// result, and stores it under the URL key plus any extra content keys.
func (p *Proxy) resolveAndStore(ctx context.Context, pageURL, site string, extraKeys []cache.ContentKey, opts ResolveOptions) (*cache.Entry, error) {
	p.limiterFor(site).Take()

	// The resolution outlives any single waiter once coalesced, so it
	// carries its own deadline instead of the first caller's.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Config.ResolveTimeout)
	defer cancel()

	logger.Debug("{proxy/proxy.go - resolveAndStore} Resolving %s via %s", utils.LogURL(p.Config, pageURL), site)
	result, err := p.scraper.Resolve(rctx, pageURL, site, !opts.Headed, !opts.Verbose)
	if err != nil {
		metrics.Resolutions.WithLabelValues(site, "error").Inc()
		metrics.UpstreamErrors.WithLabelValues(site, "resolve").Inc()
		return nil, err
	}
	if result.Site == "" {
		result.Site = site
	}
	if result.PageURL == "" {
		result.PageURL = pageURL
	}

	p.enrichVariants(rctx, result)
	selector.Annotate(result)

	keys := append([]cache.ContentKey{cache.URLKey(pageURL)}, extraKeys...)
	token, expires := p.Cache.Store(result, keys)
	metrics.Resolutions.WithLabelValues(result.Site, "resolved").Inc()
	metrics.TokensActive.Set(float64(p.Cache.Size()))
	logger.Info("{proxy/proxy.go - resolveAndStore} Stored token %s for %s (%d variants, expires %s)",
		utils.ShortToken(token), result.Site, len(result.Variants), expires.Format(time.RFC3339))

	p.prefetchBest(result, token)

	entry, ok := p.Cache.Get(token)
	if !ok {
		return nil, apperr.Internal(nil, "freshly stored token vanished")
	}
	return entry, nil
}

// enrichVariants fills in the variant list when the sidecar only produced
// a raw or addressable master playlist.
func (p *Proxy) enrichVariants(ctx context.Context, result *types.ResolutionResult) {
	if len(result.Variants) > 0 {
		return
	}

	raw := result.RawMaster
	if raw == "" && result.MasterURL != "" {
		text, err := p.fetchPlaylist(ctx, result.MasterURL, result)
		if err != nil {
			logger.Debug("{proxy/proxy.go - enrichVariants} Master fetch failed: %v", err)
			return
		}
		raw = text
		result.RawMaster = text
	}
	if raw == "" {
		return
	}

	variants, err := parser.ParseRawMaster(raw, result.MasterURL)
	if err != nil {
		logger.Debug("{proxy/proxy.go - enrichVariants} Master parse failed: %v", err)
		return
	}
	result.Variants = variants
}

// prefetchBest warms the playlist cache for the best variant so the first
// player request after a resolution skips one upstream round trip. The
// warm copy lands in the playlist cache, never in the cached resolution.
func (p *Proxy) prefetchBest(result *types.ResolutionResult, token string) {
	best := result.BestVariant()
	if best == nil || best.URL == "" || best.HasInlinePlaylist() {
		return
	}
	variantURL := best.URL

	err := p.workers.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.Config.MetadataTimeout)
		defer cancel()
		if _, err := p.fetchPlaylist(ctx, variantURL, result); err != nil {
			logger.Debug("{proxy/proxy.go - prefetchBest} Prefetch for token %s failed: %v",
				utils.ShortToken(token), err)
		}
	})
	if err != nil {
		logger.Debug("{proxy/proxy.go - prefetchBest} Submit failed: %v", err)
	}
}
