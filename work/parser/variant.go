package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/logger"
)

// AllowedSegmentExtensions is the allow-list applied to rewritten variant
// playlists. A URI whose path (query string stripped) ends in none of
// these is dropped together with its paired #EXTINF tag; the sites pad
// their playlists with tracking pixels and ad beacons that would otherwise
// break players.
var AllowedSegmentExtensions = []string{
	".ts", ".m4s", ".m4a", ".m4v", ".mp4", ".aac", ".vtt", ".mp3", ".webvtt",
}

// RewriteVariantPlaylist rewrites a variant (media) playlist so every
// surviving segment URI routes through the proxy. Processing is line
// based:
//
//   - #EXTINF lines are buffered and only emitted if the URI that follows
//     them survives filtering, so a dropped segment takes its duration tag
//     with it.
//   - Other #-prefixed lines copy through verbatim.
//   - URI lines resolve to absolute URLs against baseURL, pass the
//     extension allow-list, and are rewritten to
//     {proxyBase}/proxy/{token}/segment.ts?segment={urlencoded absolute URL}.
//
// A playlist where zero URIs survive is an upstream error; an empty 200
// playlist would make players spin forever.
func RewriteVariantPlaylist(text string, baseURL string, token string, proxyBase string) (string, error) {
	var out strings.Builder
	var pendingExtinf string
	survivors := 0
	dropped := 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTINF"):
			pendingExtinf = line
		case strings.HasPrefix(line, "#"):
			out.WriteString(line + "\n")
		default:
			absolute := ResolveURL(line, baseURL)
			if !isAllowedSegment(absolute) {
				dropped++
				pendingExtinf = ""
				continue
			}
			if pendingExtinf != "" {
				out.WriteString(pendingExtinf + "\n")
				pendingExtinf = ""
			}
			out.WriteString(fmt.Sprintf("%s/proxy/%s/segment.ts?segment=%s\n",
				proxyBase, token, url.QueryEscape(absolute)))
			survivors++
		}
	}
	if err := scanner.Err(); err != nil {
		return "", apperr.Upstream(err, "reading variant playlist")
	}

	if survivors == 0 {
		return "", apperr.Upstream(nil, "no playable segments left after filtering")
	}
	if dropped > 0 {
		logger.Debug("{parser/variant - RewriteVariantPlaylist} Dropped %d non-media entries, kept %d", dropped, survivors)
	}
	return out.String(), nil
}

// isAllowedSegment checks the URI path against the media extension
// allow-list, ignoring the query string and case.
func isAllowedSegment(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range AllowedSegmentExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
