package imagegen

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pictora/pictora/types"
)

// Pixel dimension bounds accepted from callers.
const (
	MinDimension = 100
	MaxDimension = 10000
)

// Resolution tiers map a tier token to the long-edge pixel count used when
// a pixel size has to be synthesized from an aspect ratio.
var resolutionTiers = map[string]int{
	"1K": 1024,
	"2K": 2048,
	"4K": 4096,
}

// DefaultTier is used when an aspect spec carries no tier suffix.
const DefaultTier = "1K"

// supportedAspects are the aspect-ratio tokens providers accept natively,
// ordered for deterministic closest-match scans.
var supportedAspects = []string{
	"1:1", "16:9", "9:16", "4:3", "3:4", "3:2", "2:3", "4:5", "5:4", "21:9",
}

// ParsePixelSize parses a "WxH" or "W*H" pixel spec.
func ParsePixelSize(s string) (w, h int, ok bool) {
	s = strings.TrimSpace(s)
	var sep string
	switch {
	case strings.ContainsAny(s, "xX"):
		s = strings.ToLower(s)
		sep = "x"
	case strings.Contains(s, "*"):
		sep = "*"
	default:
		return 0, 0, false
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// ValidatePixelSize checks both dimensions against the accepted range.
func ValidatePixelSize(w, h int) error {
	if w < MinDimension || w > MaxDimension || h < MinDimension || h > MaxDimension {
		return types.NewValidationError(fmt.Sprintf(
			"size %dx%d out of range: each dimension must be within [%d,%d]",
			w, h, MinDimension, MaxDimension))
	}
	return nil
}

// IsAspectSize reports whether s is an aspect spec ("W:H", "W:H-TIER", "-TIER").
func IsAspectSize(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "-") {
		_, ok := resolutionTiers[strings.TrimPrefix(s, "-")]
		return ok
	}
	return strings.Contains(s, ":")
}

// SplitAspectSize splits an aspect spec into its ratio and tier parts.
// "16:9-2K" yields ("16:9", "2K"), "-2K" yields ("", "2K"), "16:9" yields
// ("16:9", "").
func SplitAspectSize(s string) (ratio, tier string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "-"); i >= 0 {
		if _, ok := resolutionTiers[s[i+1:]]; ok {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// NormalizeAspect maps a ratio token onto the supported set, reducing by
// gcd first and falling back to the closest supported ratio.
func NormalizeAspect(ratio string) string {
	w, h, ok := parseRatio(ratio)
	if !ok {
		return "1:1"
	}
	g := gcd(w, h)
	reduced := fmt.Sprintf("%d:%d", w/g, h/g)
	for _, a := range supportedAspects {
		if a == reduced {
			return a
		}
	}
	return closestAspect(float64(w) / float64(h))
}

// AspectFromPixels maps pixel dimensions to the closest supported aspect
// ratio token.
func AspectFromPixels(w, h int) string {
	if w <= 0 || h <= 0 {
		return "1:1"
	}
	return NormalizeAspect(fmt.Sprintf("%d:%d", w, h))
}

// PixelsForAspect synthesizes pixel dimensions for a ratio token at the
// given resolution tier. The long edge is set by the tier, the short edge
// is scaled and snapped to a multiple of 8.
func PixelsForAspect(ratio, tier string) (w, h int) {
	long, ok := resolutionTiers[tier]
	if !ok {
		long = resolutionTiers[DefaultTier]
	}
	rw, rh, ok := parseRatio(NormalizeAspect(ratio))
	if !ok {
		return long, long
	}
	if rw >= rh {
		w = long
		h = snap8(long * rh / rw)
	} else {
		h = long
		w = snap8(long * rw / rh)
	}
	return w, h
}

func parseRatio(s string) (w, h int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func closestAspect(value float64) string {
	best := supportedAspects[0]
	bestDiff := math.MaxFloat64
	for _, a := range supportedAspects {
		aw, ah, _ := parseRatio(a)
		diff := math.Abs(value - float64(aw)/float64(ah))
		if diff < bestDiff {
			bestDiff = diff
			best = a
		}
	}
	return best
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func snap8(n int) int {
	if n < 8 {
		return 8
	}
	return (n + 4) / 8 * 8
}
