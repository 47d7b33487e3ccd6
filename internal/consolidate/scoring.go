package consolidate

import (
	"math"
	"strconv"
	"strings"
)

// Buckets is the closed set every score factor is drawn from.
var Buckets = []float64{0.01, 0.05, 0.10, 0.25, 0.50, 0.60, 0.75, 0.90, 1.00}

// Veracity percentages assigned to a fact.
const (
	VeracityLocked    = 100
	VeracityContested = 25
	VeracityOpen      = 75
)

// SnapToBucket returns x when it is a bucket value, else the nearest bucket.
// Ties go to the lower bucket.
func SnapToBucket(x float64) float64 {
	best := Buckets[0]
	bestDist := math.Abs(x - best)
	for _, b := range Buckets[1:] {
		if d := math.Abs(x - b); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

// VeracityMultiplier maps a status percentage to its 0-1 multiplier.
// Unknown percentages map to 0.
func VeracityMultiplier(pct int) float64 {
	switch pct {
	case 0:
		return 0
	case 25:
		return 0.25
	case 50:
		return 0.50
	case 75:
		return 0.75
	case 100:
		return 1.0
	default:
		return 0
	}
}

// Strength is veracity × relevance × credibility × impact rounded to 4 decimals.
func Strength(veracityPct int, relevance, credibility, impact float64) float64 {
	return Round(VeracityMultiplier(veracityPct)*relevance*credibility*impact, 4)
}

// Round rounds the exact binary value of x to n decimals, ties to even.
func Round(x float64, n int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', n, 64), 64)
	if err != nil {
		return x
	}
	return r
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// parseFloat returns the parsed value of s, or def when s is not a number.
func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// formatFloat renders a value the way the CSV outputs expect: shortest
// representation, always with a decimal part.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
