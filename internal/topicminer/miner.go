// Package topicminer counts the recurring words of a relation's archives
// across years and maps them onto the stakes index.
package topicminer

import (
	"autopn/internal/archive"
	"autopn/internal/enjeux"
	"autopn/internal/logging"
	"autopn/internal/textutil"
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MinTokenLen is the shortest token counted, in runes.
const MinTokenLen = 3

var (
	wordRe  = regexp.MustCompile(`\p{Latin}+`)
	replyRe = regexp.MustCompile(`(?i)\b(a écrit|wrote)\s*:\s*$`)
)

// Body drops quoted lines and everything from the "a écrit :" or "wrote:"
// line of a reply.
func Body(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		if replyRe.MatchString(line) {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Tokens returns the deaccented lowercase words of text that are long
// enough and not stopwords of the text's language.
func Tokens(text string) []string {
	stop := Stopwords(Language(text))
	var out []string
	for _, w := range wordRe.FindAllString(textutil.DeaccentLower(text), -1) {
		if len([]rune(w)) < MinTokenLen || stop[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Count aggregates one token.
type Count struct {
	Occurrences int
	Messages    int
	Years       []int
}

// yearCounts is the per-year tally of one archive file.
type yearCounts struct {
	year     int
	messages int
	tokens   map[string]*Count
}

// Corpus is the merged tally of every processed year.
type Corpus struct {
	Messages int
	Tokens   map[string]*Count
	ByYear   map[int]map[string]*Count
}

// Collect counts the tokens of the emails_YYYY.txt files of years in
// archives, one goroutine per year up to workers. Missing files are
// skipped.
func Collect(ctx context.Context, archives string, years []int, workers int) (*Corpus, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]*yearCounts, len(years))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, y := range years {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			yc, err := countYear(archive.YearFile(archives, y, false), y)
			if err != nil {
				return err
			}
			results[i] = yc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Corpus{Tokens: make(map[string]*Count), ByYear: make(map[int]map[string]*Count)}
	for _, yc := range results {
		if yc == nil {
			continue
		}
		c.Messages += yc.messages
		c.ByYear[yc.year] = yc.tokens
		for tok, n := range yc.tokens {
			total, ok := c.Tokens[tok]
			if !ok {
				total = &Count{}
				c.Tokens[tok] = total
			}
			total.Occurrences += n.Occurrences
			total.Messages += n.Messages
			total.Years = append(total.Years, yc.year)
		}
	}
	for _, n := range c.Tokens {
		sort.Ints(n.Years)
	}
	return c, nil
}

func countYear(path string, year int) (*yearCounts, error) {
	msgs, err := archive.ReadFile(path)
	if err != nil {
		logging.TopicsDebug("skipping %d: %v", year, err)
		return nil, nil
	}
	yc := &yearCounts{year: year, tokens: make(map[string]*Count)}
	for _, m := range msgs {
		body := Body(m.Body)
		if body == "" {
			continue
		}
		yc.messages++
		seen := make(map[string]bool)
		for _, tok := range Tokens(body) {
			n, ok := yc.tokens[tok]
			if !ok {
				n = &Count{Years: []int{year}}
				yc.tokens[tok] = n
			}
			n.Occurrences++
			if !seen[tok] {
				seen[tok] = true
				n.Messages++
			}
		}
	}
	logging.Topics("%d: %d messages, %d distinct tokens", year, yc.messages, len(yc.tokens))
	return yc, nil
}

// Concept matching thresholds.
const (
	JaccardThreshold  = 0.70
	SequenceThreshold = 0.90
)

type concept struct {
	index  int
	norm   string
	tokens map[string]struct{}
}

// Concepts maps words onto the labels and synonyms of a stakes index.
type Concepts struct {
	index    *enjeux.Index
	exact    map[string]int
	concepts []concept
}

// NewConcepts builds the lookup tables of idx. A nil index maps nothing.
func NewConcepts(idx *enjeux.Index) *Concepts {
	c := &Concepts{index: idx, exact: make(map[string]int)}
	if idx == nil {
		return c
	}
	for _, e := range idx.Entries() {
		for _, lab := range append([]string{e.Label}, e.Synonyms...) {
			norm := textutil.NormalizeLabel(lab)
			if norm == "" {
				continue
			}
			c.exact[norm] = e.Index
			c.concepts = append(c.concepts, concept{index: e.Index, norm: norm, tokens: textutil.TokenSet(lab)})
		}
	}
	return c
}

// Map returns the index entry text maps to and the method used: exact
// label or synonym, best Jaccard score, then the first sequence ratio at
// or above its threshold.
func (c *Concepts) Map(text string) (int, string, bool) {
	norm := textutil.NormalizeLabel(text)
	if norm == "" {
		return 0, "", false
	}
	if n, ok := c.exact[norm]; ok {
		return n, "exact_or_synonym", true
	}
	tokens := textutil.TokenSet(text)
	best, bestScore := 0, 0.0
	for _, k := range c.concepts {
		if s := textutil.Jaccard(tokens, k.tokens); s > bestScore {
			best, bestScore = k.index, s
		}
	}
	if bestScore >= JaccardThreshold {
		return best, fmt.Sprintf("fuzzy_jaccard_%.2f", bestScore), true
	}
	for _, k := range c.concepts {
		if r := textutil.SequenceRatio(norm, k.norm); r >= SequenceThreshold {
			return k.index, fmt.Sprintf("fuzzy_seq_%.2f", r), true
		}
	}
	return 0, "", false
}

// Label returns the label of entry n.
func (c *Concepts) Label(n int) string {
	if c.index == nil {
		return ""
	}
	if e, ok := c.index.Get(n); ok {
		return e.Label
	}
	return ""
}
