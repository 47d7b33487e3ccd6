// Package textutil holds the text normalization helpers shared by the
// archive, analysis and consolidation tools.
package textutil

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// spaceClass is Unicode whitespace: RE2's \s is ASCII only, and mail text
// carries U+00A0 and U+202F around French punctuation.
const spaceClass = `\s\p{Z}\x{85}\x{1c}-\x{1f}`

var (
	spaceRe      = regexp.MustCompile(`[` + spaceClass + `]+`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_` + spaceClass + `-]+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}_` + spaceClass + `]`)
	labelSepsRep = strings.NewReplacer("/", " ", "-", " ", "_", " ")
)

// NormSpace collapses runs of Unicode whitespace into one space and trims
// the result.
func NormSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, IsSpace), " ")
}

// IsSpace reports whether r is whitespace, including the information
// separators U+001C to U+001F.
func IsSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// Slugish lowercases s, drops punctuation and joins words with hyphens.
// Returns "na" for input with no word characters.
func Slugish(s string) string {
	s = strings.ToLower(s)
	s = nonWordRe.ReplaceAllString(s, "")
	s = strings.Trim(spaceRe.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "na"
	}
	return s
}

// HashID returns prefix-<first n hex chars of sha1(s)>.
func HashID(prefix, s string, n int) string {
	sum := sha1.Sum([]byte(s))
	h := hex.EncodeToString(sum[:])
	if n > 0 && n < len(h) {
		h = h[:n]
	}
	return prefix + "-" + h
}

// Deaccent removes combining marks (é -> e, ç -> c).
func Deaccent(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// DeaccentLower is Deaccent + lowercase + trim.
func DeaccentLower(s string) string {
	return strings.TrimSpace(strings.ToLower(Deaccent(s)))
}

// CanonKey is the lookup key for taxonomy names: deaccented, lowercase,
// every non-alphanumeric run replaced by one space.
func CanonKey(s string) string {
	s = Deaccent(strings.TrimSpace(strings.ToLower(s)))
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(s, " "))
}

// NormalizeLabel is the aggressive normalization used to deduplicate stake
// labels and topic tokens.
func NormalizeLabel(s string) string {
	if s == "" {
		return ""
	}
	s = DeaccentLower(s)
	s = labelSepsRep.Replace(s)
	s = punctRe.ReplaceAllString(s, " ")
	return NormSpace(s)
}

// TokenSet splits the normalized label into a set of words.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(NormalizeLabel(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SequenceRatio is the character-level similarity ratio 2*M/T.
func SequenceRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(splitChars(a), splitChars(b))
	return m.Ratio()
}

// CloseMatch returns the choice with the best ratio against word when it
// reaches cutoff.
func CloseMatch(word string, choices []string, cutoff float64) (string, bool) {
	best, bestScore := "", 0.0
	for _, c := range choices {
		r := SequenceRatio(word, c)
		if r >= cutoff && r > bestScore {
			best, bestScore = c, r
		}
	}
	return best, best != ""
}

// Truncate cuts s to max runes and appends suffix when it was longer.
func Truncate(s string, max int, suffix string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + suffix
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
