package parser

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dizi-proxy/work/apperr"
)

const variantBase = "https://cdn.example.com/hls/720/index.m3u8"

func TestRewriteDropsNonMediaEntriesWithTheirExtinf(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:10,",
		"seg1.ts",
		"#EXTINF:8,",
		"ad.gif",
		"seg2.ts",
	}, "\n")

	out, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "/proxy/tok/segment.ts?segment="))
	assert.NotContains(t, out, "ad.gif")
	// The ad's duration tag is gone too; only seg1's #EXTINF:10 and the
	// orphaned-tag-free seg2 remain.
	assert.Equal(t, 1, strings.Count(out, "#EXTINF:10,"))
	assert.Zero(t, strings.Count(out, "#EXTINF:8,"))
}

func TestRewriteResolvesRelativeSegments(t *testing.T) {
	playlist := "#EXTM3U\n#EXTINF:6,\n../seg/0001.ts\n"

	out, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
	require.NoError(t, err)

	encoded := url.QueryEscape("https://cdn.example.com/hls/seg/0001.ts")
	assert.Contains(t, out, proxyBase+"/proxy/tok/segment.ts?segment="+encoded)
}

func TestRewriteIgnoresQueryStringWhenCheckingExtension(t *testing.T) {
	playlist := "#EXTM3U\n#EXTINF:6,\nhttps://cdn.example.com/seg.ts?auth=abc&exp=123\n"

	out, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
	require.NoError(t, err)
	assert.Contains(t, out, "segment="+url.QueryEscape("https://cdn.example.com/seg.ts?auth=abc&exp=123"))
}

func TestRewriteExtensionCheckIsCaseInsensitive(t *testing.T) {
	playlist := "#EXTM3U\n#EXTINF:6,\nhttps://cdn.example.com/SEG.TS\n"

	out, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
	require.NoError(t, err)
	assert.Contains(t, out, "/proxy/tok/segment.ts?segment=")
}

func TestRewriteCopiesTagsVerbatim(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:10",
		"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"",
		"#EXTINF:10,",
		"seg1.ts",
		"#EXT-X-ENDLIST",
	}, "\n")

	out, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
	require.NoError(t, err)
	assert.Contains(t, out, "#EXT-X-VERSION:3")
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:10")
	assert.Contains(t, out, "#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"")
	assert.Contains(t, out, "#EXT-X-ENDLIST")
}

func TestRewriteAllFilteredIsUpstreamErrorNeverEmptyPlaylist(t *testing.T) {
	playlist := "#EXTM3U\n#EXTINF:10,\ntracker.gif\n#EXTINF:10,\npixel.png\n"

	out, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Empty(t, out)
}

func TestRewriteAcceptsEveryAllowedExtension(t *testing.T) {
	for _, ext := range AllowedSegmentExtensions {
		playlist := "#EXTM3U\n#EXTINF:4,\nhttps://cdn.example.com/media" + ext + "\n"
		_, err := RewriteVariantPlaylist(playlist, variantBase, "tok", proxyBase)
		assert.NoError(t, err, "extension %s should be allowed", ext)
	}
}
