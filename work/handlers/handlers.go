// Package handlers exposes the proxy over HTTP: resolution endpoints that
// mint tokens, and the playlist/segment endpoints players fetch with them.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/cache"
	"dizi-proxy/work/logger"
	"dizi-proxy/work/middleware"
	"dizi-proxy/work/proxy"
	"dizi-proxy/work/sites"
)

// Register wires every route onto the router. The segment route is
// registered before the playlist route so the more specific path wins.
func Register(router *mux.Router, p *proxy.Proxy) {
	router.HandleFunc("/health", middleware.Gzip(HandleHealth(p))).Methods("GET")
	router.HandleFunc("/catalog", middleware.Gzip(HandleCatalog(p))).Methods("GET")
	router.HandleFunc("/resolve", middleware.Gzip(HandleResolve(p))).Methods("POST")
	router.HandleFunc("/stream/{token}", middleware.Gzip(HandleStream(p))).Methods("GET")
	router.HandleFunc("/play/{contentId}", middleware.Gzip(HandlePlay(p))).Methods("GET")
	router.HandleFunc("/proxy/{token}/segment.ts", HandleSegment(p)).Methods("GET")
	router.HandleFunc("/proxy/{token}", middleware.Gzip(HandleVariant(p))).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// errorResponse is the JSON error body: a summary plus one detail line
// per attempted source when a fallback chain failed.
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// tokenResponse describes a minted resolution token. ProxyUrl is relative
// so the same body works behind any front; RedirectUrl is the absolute
// equivalent and StreamUrl is the direct origin stream for clients that
// want to skip the proxy. Trail names the catalog sources that failed
// before the winning one when a fallback chain ran.
type tokenResponse struct {
	Token       string   `json:"token"`
	ExpiresAt   string   `json:"expiresAt"`
	ProxyUrl    string   `json:"proxyUrl"`
	RedirectUrl string   `json:"redirectUrl"`
	StreamUrl   string   `json:"streamUrl,omitempty"`
	Resolver    string   `json:"resolver"`
	Variants    int      `json:"variants"`
	Cached      bool     `json:"cached"`
	Trail       []string `json:"trail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("{handlers/handlers.go - writeJSON} Encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), errorResponse{
		Error:   err.Error(),
		Details: apperr.DetailsOf(err),
	})
}

func newTokenResponse(p *proxy.Proxy, entry *cache.Entry, cached bool, trail []string) tokenResponse {
	return tokenResponse{
		Token:       entry.Token,
		ExpiresAt:   entry.ExpiresAt.UTC().Format(time.RFC3339),
		ProxyUrl:    "/stream/" + entry.Token,
		RedirectUrl: p.ProxyBase() + "/stream/" + entry.Token,
		StreamUrl:   sites.StreamURL(entry.Result),
		Resolver:    entry.Result.Site,
		Variants:    len(entry.Result.Variants),
		Cached:      cached,
		Trail:       trail,
	}
}

// HandleHealth reports liveness and the current token count.
func HandleHealth(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"cacheSize": p.Cache.Size(),
		})
	}
}

// HandleCatalog lists the catalog entries.
func HandleCatalog(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := p.Catalog.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// resolveRequest is the POST /resolve body. Exactly one of id and url
// must be set.
type resolveRequest struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Site    string `json:"site"`
	Headed  bool   `json:"headed"`
	Verbose bool   `json:"verbose"`
	Fresh   bool   `json:"fresh"`
}

// HandleResolve mints a token for a page URL or a catalog ID.
func HandleResolve(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Client("invalid JSON body"))
			return
		}
		if (req.ID == "") == (req.URL == "") {
			writeError(w, apperr.Client("exactly one of id and url is required"))
			return
		}

		opts := proxy.ResolveOptions{
			Fresh:    req.Fresh,
			Headed:   req.Headed,
			Verbose:  req.Verbose,
			SiteHint: req.Site,
		}

		var (
			entry  *cache.Entry
			trail  []string
			cached bool
			err    error
		)
		if req.ID != "" {
			entry, trail, cached, err = p.Play(r.Context(), req.ID, opts)
		} else {
			entry, cached, err = p.Resolve(r.Context(), req.URL, opts)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTokenResponse(p, entry, cached, trail))
	}
}

// servePlaylist renders a playlist response: JSON when format=json is
// requested, otherwise the playlist body or a redirect.
func servePlaylist(p *proxy.Proxy, w http.ResponseWriter, r *http.Request, entry *cache.Entry, cached bool, trail []string) {
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, newTokenResponse(p, entry, cached, trail))
		return
	}

	resp, err := p.Playlist(r.Context(), entry.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if resp.RedirectURL != "" {
		http.Redirect(w, r, resp.RedirectURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.Write([]byte(resp.Body))
}

// HandleStream serves the entry playlist for an existing token.
func HandleStream(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]
		entry, ok := p.Cache.Get(token)
		if !ok {
			writeError(w, apperr.NotFound("unknown or expired token"))
			return
		}
		servePlaylist(p, w, r, entry, true, nil)
	}
}

// HandlePlay resolves a catalog ID through its sources and serves the
// resulting playlist in one round trip.
func HandlePlay(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["contentId"]
		entry, trail, cached, err := p.Play(r.Context(), id, proxy.ResolveOptions{})
		if err != nil {
			writeError(w, err)
			return
		}
		servePlaylist(p, w, r, entry, cached, trail)
	}
}

// HandleVariant serves a rewritten variant playlist, addressed either by
// variant index or by origin URL for relay children.
func HandleVariant(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]
		q := r.URL.Query()

		var (
			body string
			err  error
		)
		switch {
		case q.Get("variant") != "":
			var index int
			index, err = strconv.Atoi(q.Get("variant"))
			if err != nil {
				writeError(w, apperr.Client("variant must be an integer"))
				return
			}
			body, err = p.VariantByIndex(r.Context(), token, index)
		case q.Get("src") != "":
			body, err = p.VariantBySource(r.Context(), token, q.Get("src"))
		default:
			writeError(w, apperr.Client("variant or src query parameter is required"))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(body))
	}
}

// HandleSegment streams one media segment through the proxy.
func HandleSegment(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]
		segment := r.URL.Query().Get("segment")
		if segment == "" {
			writeError(w, apperr.Client("segment query parameter is required"))
			return
		}
		if err := p.Segment(r.Context(), w, r, token, segment); err != nil {
			writeError(w, err)
		}
	}
}
