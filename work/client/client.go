// Package client provides the outbound HTTP clients used against origin
// CDNs. Origins behind the supported sites validate Referer, User-Agent
// and session cookies, so every upstream request replays the headers the
// browser session was captured with.
package client

import (
	"context"
	"net/http"
	"time"

	"dizi-proxy/work/sites"
	"dizi-proxy/work/types"
)

// SessionClient wraps two http.Clients tuned for the proxy's traffic
// shapes: a metadata client with an overall deadline for playlist-sized
// bodies, and a streaming client that only bounds the response headers so
// long segment transfers are never cut off mid-body.
type SessionClient struct {
	metadata  *http.Client
	streaming *http.Client
}

// New builds a SessionClient. metadataTimeout bounds whole playlist
// fetches; segment requests rely on context cancellation instead.
func New(metadataTimeout time.Duration) *SessionClient {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &SessionClient{
		metadata: &http.Client{
			Timeout:   metadataTimeout,
			Transport: transport,
		},
		streaming: &http.Client{
			Timeout:   0,
			Transport: transport,
		},
	}
}

// NewRequest builds a GET request for targetURL carrying the resolution's
// captured session headers: its User-Agent (falling back to the shared
// default), its Cookie header, and the Referer chain resolved by the site
// table.
func (sc *SessionClient) NewRequest(ctx context.Context, targetURL string, result *types.ResolutionResult) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}

	userAgent := result.UserAgent
	if userAgent == "" {
		userAgent = sites.DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	if result.Cookies != "" {
		req.Header.Set("Cookie", result.Cookies)
	}
	if referer := sites.Referer(result); referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}

// DoMetadata performs a deadline-bounded request for playlist-sized
// bodies.
func (sc *SessionClient) DoMetadata(req *http.Request) (*http.Response, error) {
	return sc.metadata.Do(req)
}

// DoStreaming performs a request whose body may be streamed for a long
// time; only the response headers are deadline-bounded. Cancel the request
// context to abort the transfer.
func (sc *SessionClient) DoStreaming(req *http.Request) (*http.Response, error) {
	return sc.streaming.Do(req)
}
