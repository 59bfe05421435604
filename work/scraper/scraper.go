// Package scraper talks to the resolver sidecar, the headless-browser
// service that turns a streaming-site episode page into stream metadata.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/types"
)

// Scraper resolves an episode page into stream metadata. headless and
// quiet mirror the sidecar's browser flags; both default to true in
// normal operation.
type Scraper interface {
	Resolve(ctx context.Context, pageURL, site string, headless, quiet bool) (*types.ResolutionResult, error)
}

// HTTPScraper is the sidecar-backed Scraper. The sidecar drives a real
// browser, so a single resolution can take tens of seconds.
type HTTPScraper struct {
	baseURL string
	client  *http.Client
}

// NewHTTP builds an HTTPScraper against the sidecar base URL. timeout
// bounds a full resolution including browser startup.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPScraper {
	return &HTTPScraper{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// resolveResponse mirrors the sidecar's JSON payload.
type resolveResponse struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Site      string            `json:"site"`
	PageURL   string            `json:"page_url"`
	MasterURL string            `json:"master_url"`
	RawMaster string            `json:"raw_master"`
	Variants  []resolveVariant  `json:"variants"`
	UserAgent string            `json:"user_agent"`
	Cookies   map[string]string `json:"cookies"`
	EmbedURL  string            `json:"embed_url"`
	ProxyURL  string            `json:"proxy_url"`
	Quality   string            `json:"quality_url"`
}

type resolveVariant struct {
	Quality    string `json:"quality"`
	Resolution string `json:"resolution"`
	Bandwidth  int    `json:"bandwidth"`
	Codecs     string `json:"codecs"`
	URL        string `json:"url"`
	Playlist   string `json:"playlist"`
}

// Resolve asks the sidecar to resolve pageURL. The site hint is forwarded
// so the sidecar can skip its own detection pass; headless and quiet only
// appear on the wire when they deviate from the sidecar's defaults.
func (s *HTTPScraper) Resolve(ctx context.Context, pageURL, site string, headless, quiet bool) (*types.ResolutionResult, error) {
	endpoint := fmt.Sprintf("%s/resolve?url=%s", s.baseURL, url.QueryEscape(pageURL))
	if site != "" {
		endpoint += "&site=" + url.QueryEscape(site)
	}
	if !headless {
		endpoint += "&headless=0"
	}
	if !quiet {
		endpoint += "&quiet=0"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Internal(err, "building sidecar request")
	}

	// Sidecar infrastructure failures are ours, not the origin's, so they
	// surface as internal errors. Only a reported resolution failure
	// counts as upstream.
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Internal(err, "resolver sidecar unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.Internal(err, "reading sidecar response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Internal(nil, "resolver sidecar returned %d", resp.StatusCode)
	}

	var rr resolveResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, apperr.Internal(err, "decoding sidecar response")
	}
	if !rr.Success {
		msg := rr.Error
		if msg == "" {
			msg = "resolution failed"
		}
		return nil, apperr.Upstream(nil, "%s", msg)
	}

	result := &types.ResolutionResult{
		Site:       rr.Site,
		PageURL:    rr.PageURL,
		MasterURL:  rr.MasterURL,
		RawMaster:  rr.RawMaster,
		UserAgent:  rr.UserAgent,
		Cookies:    cookieHeader(rr.Cookies),
		EmbedURL:   rr.EmbedURL,
		ProxyURL:   rr.ProxyURL,
		QualityURL: rr.Quality,
		BestIndex:  -1,
	}
	if result.PageURL == "" {
		result.PageURL = pageURL
	}
	for _, v := range rr.Variants {
		result.Variants = append(result.Variants, types.Variant{
			Quality:    v.Quality,
			Resolution: v.Resolution,
			Bandwidth:  v.Bandwidth,
			Codecs:     v.Codecs,
			URL:        v.URL,
			Playlist:   v.Playlist,
		})
	}
	return result, nil
}

// cookieHeader flattens the sidecar's cookie map into a Cookie header
// value.
func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for name, value := range cookies {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, "; ")
}
