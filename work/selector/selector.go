// Package selector implements the best-variant heuristic for resolved
// streams. Selection is a pure function over the variant list; it never
// mutates its input and always reports the chosen variant's position in
// the original list, because segment routing addresses variants by that
// original index.
package selector

import (
	"strconv"

	"github.com/grafana/regexp"

	"dizi-proxy/work/types"
)

var (
	dimensionsRe = regexp.MustCompile(`^(\d+)\s*[xX]\s*(\d+)$`)
	pTokenRe     = regexp.MustCompile(`^(\d+)[pP]$`)
)

// score orders variants lexicographically: resolution area, then height,
// then bandwidth, then presence of an inline playlist, then earliest
// original position. All comparisons descend except position.
type score struct {
	area      int
	height    int
	bandwidth int
	inline    bool
	index     int
}

func (s score) beats(other score) bool {
	if s.area != other.area {
		return s.area > other.area
	}
	if s.height != other.height {
		return s.height > other.height
	}
	if s.bandwidth != other.bandwidth {
		return s.bandwidth > other.bandwidth
	}
	if s.inline != other.inline {
		return s.inline
	}
	return s.index < other.index
}

// SelectBest returns the highest-scoring variant and its index in the
// input list. ok is false when the list is empty.
func SelectBest(variants []types.Variant) (index int, best types.Variant, ok bool) {
	if len(variants) == 0 {
		return 0, types.Variant{}, false
	}

	top := scoreOf(&variants[0], 0)
	index = 0
	for i := 1; i < len(variants); i++ {
		if s := scoreOf(&variants[i], i); s.beats(top) {
			top = s
			index = i
		}
	}
	return index, variants[index], true
}

func scoreOf(v *types.Variant, index int) score {
	width, height := ParseResolution(v.Resolution)
	if width == 0 && height == 0 {
		// Some sites put the resolution token in the quality label instead.
		width, height = ParseResolution(v.Quality)
	}
	return score{
		area:      width * height,
		height:    height,
		bandwidth: v.Bandwidth,
		inline:    v.HasInlinePlaylist(),
		index:     index,
	}
}

// ParseResolution extracts pixel dimensions from a "WxH" or "NNNp" token.
// For "NNNp" the width is assumed at a 16:9 ratio purely to produce a
// comparable area; it is never surfaced to callers as a real width.
// Unparseable or missing tokens yield (0, 0).
func ParseResolution(token string) (width, height int) {
	if token == "" {
		return 0, 0
	}
	if m := dimensionsRe.FindStringSubmatch(token); m != nil {
		width, _ = strconv.Atoi(m[1])
		height, _ = strconv.Atoi(m[2])
		return width, height
	}
	if m := pTokenRe.FindStringSubmatch(token); m != nil {
		height, _ = strconv.Atoi(m[1])
		return height * 16 / 9, height
	}
	return 0, 0
}

// Annotate runs SelectBest over a resolution's variants and records the
// winner's index on the result. Results without variants get -1.
func Annotate(result *types.ResolutionResult) {
	if index, _, ok := SelectBest(result.Variants); ok {
		result.BestIndex = index
		return
	}
	result.BestIndex = -1
}
