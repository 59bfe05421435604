// Package sites holds the per-site capability table. Everything the proxy
// needs to know about a supported streaming site lives here: how to detect
// it from a page URL, which Referer its CDN expects, whether its streams
// must be relayed through this proxy, and which resolution fields hold the
// playable URL, in order of preference.
package sites

import (
	"net/url"
	"strings"

	"dizi-proxy/work/types"
)

// DefaultUserAgent is replayed upstream when a resolution carries no
// captured User-Agent of its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"

// Stream field identifiers used in Capability.StreamFields.
const (
	FieldVariant = "variant" // URL of the selector-chosen variant
	FieldMaster  = "master"  // ResolutionResult.MasterURL
	FieldProxy   = "proxy"   // ResolutionResult.ProxyURL
	FieldQuality = "quality" // ResolutionResult.QualityURL
)

// Capability describes one supported site.
type Capability struct {
	Name           string   // Site identifier used in content keys and API payloads
	DefaultReferer string   // Referer sent upstream when the capture recorded none
	Relay          bool     // True when the stream URL only works through this proxy's rewritten playlist
	Domains        []string // Hostname substrings used for site detection
	StreamFields   []string // Resolution fields holding the playable URL, tried in order
}

// table is keyed by site identifier. Relay membership and default referers
// follow the origins' current anti-hotlinking behavior and move whenever
// the sites rotate domains.
var table = map[string]Capability{
	"hdfilm": {
		Name:           "hdfilm",
		DefaultReferer: "https://www.hdfilmcehennemi.la/",
		Relay:          true,
		Domains:        []string{"hdfilmcehennemi"},
		StreamFields:   []string{FieldVariant, FieldMaster},
	},
	"dizibox": {
		Name:           "dizibox",
		DefaultReferer: "https://dbx.molystream.org/",
		Relay:          false,
		Domains:        []string{"dizibox", "molystream"},
		StreamFields:   []string{FieldVariant, FieldProxy, FieldQuality},
	},
	"dizipub": {
		Name:           "dizipub",
		DefaultReferer: "https://dizipub.club/",
		Relay:          true,
		Domains:        []string{"dizipub"},
		StreamFields:   []string{FieldVariant, FieldMaster},
	},
	"dizipal": {
		Name:           "dizipal",
		DefaultReferer: "https://dizipal1503.com/",
		Relay:          true,
		Domains:        []string{"dizipal"},
		StreamFields:   []string{FieldVariant, FieldMaster},
	},
	"dizilla": {
		Name:           "dizilla",
		DefaultReferer: "https://dizilla40.com/",
		Relay:          true,
		Domains:        []string{"dizilla"},
		StreamFields:   []string{FieldVariant, FieldMaster},
	},
}

// Lookup returns the capability row for a site identifier.
func Lookup(site string) (Capability, bool) {
	cap, ok := table[site]
	return cap, ok
}

// Supported reports whether the site identifier is known.
func Supported(site string) bool {
	_, ok := table[site]
	return ok
}

// Names returns all supported site identifiers. Order is unspecified.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}

// IsRelay reports whether the site's streams must be served through the
// proxy's rewritten playlists instead of a redirect.
func IsRelay(site string) bool {
	cap, ok := table[site]
	return ok && cap.Relay
}

// Detect identifies the site a page URL belongs to by hostname substring.
// Returns the empty string when no supported site matches.
func Detect(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	for name, cap := range table {
		for _, domain := range cap.Domains {
			if strings.Contains(host, domain) {
				return name
			}
		}
	}
	return ""
}

// Referer returns the Referer to replay upstream for a resolution: the
// captured embed URL first, then the original page URL, then the site
// default. An empty return means the request goes out without a Referer.
func Referer(result *types.ResolutionResult) string {
	if result.EmbedURL != "" {
		return result.EmbedURL
	}
	if result.PageURL != "" {
		return result.PageURL
	}
	if cap, ok := table[result.Site]; ok {
		return cap.DefaultReferer
	}
	return ""
}

// StreamURL resolves the direct playable URL for a resolution by walking
// the site's stream-field precedence list. Returns the empty string when
// no field is populated, which callers treat as "relay only".
func StreamURL(result *types.ResolutionResult) string {
	cap, ok := table[result.Site]
	if !ok {
		return ""
	}
	for _, field := range cap.StreamFields {
		switch field {
		case FieldVariant:
			if best := result.BestVariant(); best != nil && best.URL != "" {
				return best.URL
			}
		case FieldMaster:
			if result.MasterURL != "" {
				return result.MasterURL
			}
		case FieldProxy:
			if result.ProxyURL != "" {
				return result.ProxyURL
			}
		case FieldQuality:
			if result.QualityURL != "" {
				return result.QualityURL
			}
		}
	}
	return ""
}
