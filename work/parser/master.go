// Package parser implements the HLS playlist handling of the proxy:
// synthesis of proxy-facing master playlists, decoding of scraper-captured
// master playlist text, and rewriting of variant playlists so every
// segment reference routes back through the proxy.
package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/logger"
	"dizi-proxy/work/types"
)

// ContentTypeHLS is the media type served for every playlist response.
const ContentTypeHLS = "application/vnd.apple.mpegurl"

// dimensionsRe accepts only literal WIDTHxHEIGHT tokens. "NNNp" tokens are
// deliberately excluded: their width is an assumption used for scoring and
// must never be advertised to a player as a real resolution.
var dimensionsRe = regexp.MustCompile(`^\d+x\d+$`)

// SynthesizeMaster builds a proxy-facing master playlist for a cached
// resolution. Each exposed variant becomes an #EXT-X-STREAM-INF entry
// whose URI points at /proxy/{token}?variant={i}, where i is the variant's
// position in the original, unfiltered list; segment routing later maps
// that index back to the origin URL. Variant order always matches input
// order.
//
// With bestOnly set, only the selector-chosen variant is exposed; when no
// selection is recorded the full list is emitted instead of guessing.
func SynthesizeMaster(result *types.ResolutionResult, token string, proxyBase string, bestOnly bool) (string, error) {
	if len(result.Variants) == 0 {
		return "", apperr.Upstream(nil, "missing master URL")
	}

	type indexed struct {
		index   int
		variant *types.Variant
	}
	expose := make([]indexed, 0, len(result.Variants))
	if bestOnly && result.BestIndex >= 0 && result.BestIndex < len(result.Variants) {
		expose = append(expose, indexed{result.BestIndex, &result.Variants[result.BestIndex]})
	} else {
		for i := range result.Variants {
			expose = append(expose, indexed{i, &result.Variants[i]})
		}
	}

	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n")
	for _, entry := range expose {
		v := entry.variant

		attrs := make([]string, 0, 4)
		if v.Bandwidth > 0 {
			attrs = append(attrs, fmt.Sprintf("BANDWIDTH=%d", v.Bandwidth))
		}
		if dimensionsRe.MatchString(v.Resolution) {
			attrs = append(attrs, "RESOLUTION="+v.Resolution)
		}
		if v.Codecs != "" {
			attrs = append(attrs, fmt.Sprintf("CODECS=%q", v.Codecs))
		}
		if v.Quality != "" {
			attrs = append(attrs, fmt.Sprintf("NAME=%q", v.Quality))
		}

		playlist.WriteString("#EXT-X-STREAM-INF:" + strings.Join(attrs, ",") + "\n")
		playlist.WriteString(fmt.Sprintf("%s/proxy/%s?variant=%d\n", proxyBase, token, entry.index))
	}

	logger.Debug("{parser/master - SynthesizeMaster} Synthesized playlist for token %s exposing %d of %d variants",
		token, len(expose), len(result.Variants))
	return playlist.String(), nil
}

// ParseRawMaster decodes scraper-captured master playlist text into
// variants, resolving relative URIs against baseURL. Media playlists and
// non-playlist content yield no variants and no error; the caller falls
// back to passing the raw text through untouched.
func ParseRawMaster(raw string, baseURL string) ([]types.Variant, error) {
	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(strings.NewReader(raw)), true)
	if err != nil {
		return nil, apperr.Upstream(err, "unparseable master playlist")
	}
	if listType != m3u8.MASTER {
		return nil, nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, nil
	}

	variants := make([]types.Variant, 0, len(master.Variants))
	for _, mv := range master.Variants {
		if mv == nil || mv.URI == "" {
			continue
		}
		variants = append(variants, types.Variant{
			Quality:    mv.Name,
			Resolution: mv.Resolution,
			Bandwidth:  int(mv.Bandwidth),
			Codecs:     mv.Codecs,
			URL:        ResolveURL(mv.URI, baseURL),
		})
	}

	logger.Debug("{parser/master - ParseRawMaster} Decoded %d variants from captured master", len(variants))
	return variants, nil
}

// ResolveURL makes a playlist reference absolute against the playlist's
// own URL. Already-absolute references and unparseable inputs pass through
// unchanged.
func ResolveURL(ref string, baseURL string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}
