package enjeux

import (
	"autopn/internal/archive"
	"autopn/internal/textutil"
	"fmt"
	"sort"
	"strings"
)

// Where a dictionary token was found.
const (
	HitBody    = "body"
	HitSubject = "subject"
	HitContext = "context"
	HitKeyword = "ai"
	HitNew     = "ai_new"
)

// KeywordScore is the score of a keyword heuristic proposal.
const KeywordScore = 0.5

// Proposal is a stake attached to one message.
type Proposal struct {
	Index       int      `json:"index"`
	Label       string   `json:"etiquette"`
	Category    string   `json:"category"`
	Duration    string   `json:"duration"`
	Source      string   `json:"source"`
	Score       float64  `json:"score"`
	MatchedFrom []string `json:"matched_from"`
}

// Tag renders the marker line written above an annotated message.
func (p Proposal) Tag() string {
	return fmt.Sprintf("[[[#%d %s (%s,%s)]]]", p.Index, p.Label, p.Category, p.Duration)
}

// Candidate is a label suggested by the keyword heuristics.
type Candidate struct {
	Label     string
	Rationale string
	Score     float64
}

type searchEntry struct {
	entry   *Entry
	tokens  []string
	longest int
}

// matcher holds the index entries ordered longest token first.
type matcher struct {
	entries []searchEntry
}

func newMatcher(x *Index) *matcher {
	m := &matcher{}
	for _, e := range x.Entries() {
		se := searchEntry{entry: e, tokens: e.Tokens()}
		for _, t := range se.tokens {
			se.longest = max(se.longest, len([]rune(t)))
		}
		m.entries = append(m.entries, se)
	}
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].longest > m.entries[j].longest
	})
	return m
}

func normalizeText(s string) string {
	return strings.ToLower(textutil.NormSpace(s))
}

// Dictionary scores every index entry against msg: +2 per token found in
// the body, +1 in the subject and +1 in the surrounding messages. Results
// are sorted by score then index.
func (m *matcher) Dictionary(msg archive.Message, context []archive.Message) []Proposal {
	body := normalizeText(msg.Body)
	subject := normalizeText(msg.Subject)
	bodies := make([]string, len(context))
	for i, c := range context {
		bodies[i] = c.Body
	}
	ctx := normalizeText(strings.Join(bodies, " "))

	best := make(map[int]Proposal)
	for _, se := range m.entries {
		score := 0
		places := make(map[string]bool)
		for _, tok := range se.tokens {
			if strings.Contains(body, tok) {
				score += 2
				places[HitBody] = true
			}
			if strings.Contains(subject, tok) {
				score++
				places[HitSubject] = true
			}
			if strings.Contains(ctx, tok) {
				score++
				places[HitContext] = true
			}
		}
		if score == 0 {
			continue
		}
		if cur, ok := best[se.entry.Index]; ok && cur.Score >= float64(score) {
			continue
		}
		from := make([]string, 0, len(places))
		for p := range places {
			from = append(from, p)
		}
		sort.Strings(from)
		best[se.entry.Index] = proposalFor(se.entry, float64(score), from)
	}

	out := make([]Proposal, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func proposalFor(e *Entry, score float64, from []string) Proposal {
	return Proposal{
		Index:       e.Index,
		Label:       e.Label,
		Category:    e.Category,
		Duration:    e.Duration,
		Source:      e.Source,
		Score:       score,
		MatchedFrom: from,
	}
}

// Keywords returns a candidate per label whose term appears in body. Terms
// are tried in alphabetical order; a label is proposed once.
func Keywords(body string, keywords map[string]string) []Candidate {
	text := normalizeText(body)
	terms := make([]string, 0, len(keywords))
	for term := range keywords {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	seen := make(map[string]bool)
	var out []Candidate
	for _, term := range terms {
		label := strings.TrimSpace(keywords[term])
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" || label == "" || seen[label] || !strings.Contains(text, t) {
			continue
		}
		seen[label] = true
		out = append(out, Candidate{Label: label, Rationale: "Mot-clé détecté: " + t, Score: KeywordScore})
	}
	return out
}
