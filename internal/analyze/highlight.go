package analyze

import (
	"html"
	"html/template"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// minQuoteLen is the shortest quote highlighted, in runes.
const minQuoteLen = 6

// Span is a byte range of a message body.
type Span struct {
	Start, End int
}

// QuoteSpans locates each quote in text, case-insensitively and with
// flexible whitespace. A quote overlapping an earlier match is skipped;
// adjacent spans are merged.
func QuoteSpans(text string, quotes []string) []Span {
	var spans []Span
	for _, q := range quotes {
		words := strings.Fields(q)
		if utf8.RuneCountInString(strings.Join(words, " ")) < minQuoteLen {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		re, err := regexp.Compile(`(?is)` + strings.Join(words, `\s+`))
		if err != nil {
			continue
		}
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		s := Span{loc[0], loc[1]}
		if overlaps(spans, s) {
			continue
		}
		spans = append(spans, s)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	var merged []Span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.Start <= merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, s.End)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func overlaps(spans []Span, s Span) bool {
	for _, o := range spans {
		if s.Start < o.End && o.Start < s.End {
			return true
		}
	}
	return false
}

// HighlightBody escapes body, wraps spans in <mark class="hl"> and turns
// line breaks into <br>.
func HighlightBody(body string, spans []Span) template.HTML {
	var b strings.Builder
	last := 0
	for _, s := range spans {
		if s.Start > last {
			b.WriteString(html.EscapeString(body[last:s.Start]))
		}
		b.WriteString(`<mark class="hl">`)
		b.WriteString(html.EscapeString(body[s.Start:s.End]))
		b.WriteString(`</mark>`)
		last = s.End
	}
	b.WriteString(html.EscapeString(body[last:]))

	out := strings.ReplaceAll(b.String(), "\t", "    ")
	out = strings.ReplaceAll(out, "\n", "<br>\n")
	return template.HTML(out)
}
