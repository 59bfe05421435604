package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"dizi-proxy/work/apperr"
)

// IsMasterPlaylist reports whether the playlist text advertises variant
// streams rather than media segments.
func IsMasterPlaylist(text string) bool {
	return strings.Contains(text, "#EXT-X-STREAM-INF")
}

// RewriteMasterByURL rewrites a master playlist fetched during a relay so
// every child playlist URI routes back through the proxy by source URL:
// {proxyBase}/proxy/{token}?src={urlencoded absolute URL}. Attribute lines
// copy through verbatim; only bare URI lines change.
//
// This path is used when a relay site hands out a master playlist that was
// never part of the cached resolution, so the child playlists have no
// variant index to address them by.
func RewriteMasterByURL(text string, baseURL string, token string, proxyBase string) (string, error) {
	var out strings.Builder
	rewrote := 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			out.WriteString(line + "\n")
		default:
			absolute := ResolveURL(line, baseURL)
			out.WriteString(fmt.Sprintf("%s/proxy/%s?src=%s\n",
				proxyBase, token, url.QueryEscape(absolute)))
			rewrote++
		}
	}
	if err := scanner.Err(); err != nil {
		return "", apperr.Upstream(err, "reading master playlist")
	}
	if rewrote == 0 {
		return "", apperr.Upstream(nil, "master playlist lists no streams")
	}
	return out.String(), nil
}
