package types

// Variant represents a single HLS quality rendition captured during
// resolution of a page URL. Each variant corresponds to one entry of the
// origin's master playlist, carrying whatever quality metadata the capture
// produced. Fields the origin did not advertise stay at their zero value
// and are omitted from synthesized playlists.
//
// Playlist holds the media playlist text when the scraper already fetched
// it inside the browser session. Some origins refuse playlist requests made
// outside a real browser, so a captured body is the only way to serve those
// variants at all; when present it always wins over a live fetch.
type Variant struct {
	Quality    string `json:"quality,omitempty"`    // Human-readable quality label (e.g. "1080p", "FullHD")
	Resolution string `json:"resolution,omitempty"` // "WIDTHxHEIGHT" or "NNNp" token as captured
	Bandwidth  int    `json:"bandwidth,omitempty"`  // Peak bandwidth in bits per second, 0 when unknown
	Codecs     string `json:"codecs,omitempty"`     // Comma-separated codec string (e.g. "avc1.640028,mp4a.40.2")
	URL        string `json:"url"`                  // Absolute origin URL of the variant's media playlist
	Playlist   string `json:"playlist,omitempty"`   // Inline media playlist text captured during resolution
}

// HasInlinePlaylist reports whether the variant carries a captured media
// playlist body that can be served without contacting the origin.
func (v *Variant) HasInlinePlaylist() bool {
	return v.Playlist != ""
}

// ResolutionResult is the output of resolving one page URL on one site.
// It is produced once by the Scraper collaborator and treated as immutable
// afterwards, except for the BestIndex annotation added by the variant
// selector before the result enters the cache.
type ResolutionResult struct {
	Site       string    `json:"site"`                 // Site identifier (see work/sites)
	PageURL    string    `json:"pageUrl"`              // Original page URL the resolution started from
	MasterURL  string    `json:"masterUrl,omitempty"`  // Direct/master stream URL when captured
	RawMaster  string    `json:"rawMaster,omitempty"`  // Raw master playlist text when captured directly
	Variants   []Variant `json:"variants,omitempty"`   // Ordered quality renditions, original capture order
	UserAgent  string    `json:"userAgent,omitempty"`  // User-Agent the browser session used
	Cookies    string    `json:"cookies,omitempty"`    // Cookie header string captured from the session
	EmbedURL   string    `json:"embedUrl,omitempty"`   // Embed/player page URL, replayed as Referer upstream
	ProxyURL   string    `json:"proxyUrl,omitempty"`   // Site-provided proxied stream URL (some sites only)
	QualityURL string    `json:"qualityUrl,omitempty"` // Site-provided single-quality stream URL fallback
	BestIndex  int       `json:"bestIndex"`            // Index of the selector's choice in Variants, -1 when none
}

// BestVariant returns the selector-chosen variant, or nil when selection
// never ran or found nothing usable.
func (r *ResolutionResult) BestVariant() *Variant {
	if r.BestIndex < 0 || r.BestIndex >= len(r.Variants) {
		return nil
	}
	return &r.Variants[r.BestIndex]
}

// CatalogSourceLink is one mirror of a catalog entry on a specific site.
// Lower Priority values are tried first during multi-source fallback.
type CatalogSourceLink struct {
	Site     string `json:"site"`
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

// CatalogEntry is a playable piece of content with one or more site
// mirrors. The catalog itself is maintained by an external pipeline; this
// service only reads it.
type CatalogEntry struct {
	ID      string              `json:"id"`
	Title   string              `json:"title"`
	Year    int                 `json:"year,omitempty"`
	Sources []CatalogSourceLink `json:"sources"`
}
