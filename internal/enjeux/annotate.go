package enjeux

import (
	"autopn/internal/archive"
	"autopn/internal/logging"
	"autopn/internal/textutil"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Output locations under the analysis directory.
const (
	JSONDir    = "enjeux_json"
	MarkedDir  = "enjeux_marked"
	ReviewFile = "enjeux_review/proposals_all_years.csv"
)

// ContextSpan is the number of messages read on each side of a message.
const ContextSpan = 5

// FuzzyThreshold is the minimum Jaccard score to map a proposal onto an
// existing label.
const FuzzyThreshold = 0.75

const excerptRunes = 4000

// ReviewFields is the header of the review CSV.
var ReviewFields = []string{"norm_label", "canonical_label", "mapped_index", "action", "years", "examples"}

// Options configures an Annotator.
type Options struct {
	// Keywords maps a lowercase term to a stake label.
	Keywords    map[string]string
	AnalysisDir string
	// NoAppend keeps new labels as review candidates instead of adding them
	// to the index.
	NoAppend bool
	Now      func() time.Time
}

// Occurrence locates a proposed label.
type Occurrence struct {
	Year    int
	Seq     int
	Subject string
}

type poolSlot struct {
	labels      map[string]bool
	occurrences []Occurrence
}

// Annotator tags the messages of year files and pools the labels that are
// not in the index yet.
type Annotator struct {
	index *Index
	match *matcher
	opts  Options
	pool  map[string]*poolSlot
}

// NewAnnotator prepares an annotator over index.
func NewAnnotator(index *Index, opts Options) *Annotator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Annotator{
		index: index,
		match: newMatcher(index),
		opts:  opts,
		pool:  make(map[string]*poolSlot),
	}
}

// YearResult summarizes one annotated year.
type YearResult struct {
	Year       int
	Messages   int
	Annotated  int
	Proposals  int
	MarkedPath string
}

// messageRecord is the per-message JSON document.
type messageRecord struct {
	Year       int        `json:"year"`
	Seq        int        `json:"seq"`
	Meta       recordMeta `json:"meta"`
	Proposals  []Proposal `json:"proposals"`
	RawExcerpt string     `json:"raw_excerpt"`
}

type recordMeta struct {
	Date    string `json:"date"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// AnnotateYear tags every message of the archive file at path. It writes
// one JSON file per message and the marked copy of the year file.
func (a *Annotator) AnnotateYear(year int, path string) (YearResult, error) {
	res := YearResult{Year: year}
	msgs, err := archive.ReadFile(path)
	if err != nil {
		return res, err
	}
	res.Messages = len(msgs)

	res.MarkedPath = filepath.Join(a.opts.AnalysisDir, MarkedDir, fmt.Sprintf("emails_%d_enjeu.txt", year))
	if err := os.MkdirAll(filepath.Dir(res.MarkedPath), 0755); err != nil {
		return res, fmt.Errorf("failed to create directory: %w", err)
	}
	marked, err := os.Create(res.MarkedPath)
	if err != nil {
		return res, fmt.Errorf("failed to create %s: %w", res.MarkedPath, err)
	}
	defer marked.Close()

	for i, msg := range msgs {
		seq := i + 1
		lo, hi := max(0, i-ContextSpan), min(len(msgs), i+1+ContextSpan)
		context := append(append([]archive.Message(nil), msgs[lo:i]...), msgs[i+1:hi]...)

		props := a.Propose(year, seq, msg, context)
		if len(props) > 0 {
			res.Annotated++
			res.Proposals += len(props)
		}
		if err := a.writeRecord(year, seq, msg, props); err != nil {
			return res, err
		}
		if _, err := marked.WriteString(MarkBlock(msg.Raw, props) + "\n\n"); err != nil {
			return res, fmt.Errorf("failed to write %s: %w", res.MarkedPath, err)
		}
	}
	logging.Audit().FileWrite(res.MarkedPath, res.Messages)
	logging.Enjeux("%d: %d messages, %d annotated, %d proposals", year, res.Messages, res.Annotated, res.Proposals)
	return res, nil
}

// Propose returns the dictionary matches of msg followed by the keyword
// candidates. Keyword labels already in the index reuse their entry; others
// are pooled for consolidation and tagged with the provisional index -seq.
func (a *Annotator) Propose(year, seq int, msg archive.Message, context []archive.Message) []Proposal {
	props := a.match.Dictionary(msg, context)
	for _, c := range Keywords(msg.Body, a.opts.Keywords) {
		if hasLabel(props, c.Label) {
			continue
		}
		if e, ok := a.index.FindLabel(c.Label); ok {
			props = append(props, proposalFor(e, c.Score, []string{HitKeyword}))
			continue
		}
		a.pooled(c.Label, Occurrence{Year: year, Seq: seq, Subject: textutil.Truncate(msg.Subject, 120, "")})
		props = append(props, Proposal{
			Index:       -seq,
			Label:       c.Label,
			Category:    DefaultCategory,
			Duration:    DefaultDuration,
			Source:      DefaultSource,
			Score:       c.Score,
			MatchedFrom: []string{HitNew},
		})
	}
	return props
}

func hasLabel(props []Proposal, label string) bool {
	for _, p := range props {
		if strings.EqualFold(p.Label, label) {
			return true
		}
	}
	return false
}

func (a *Annotator) pooled(label string, occ Occurrence) {
	norm := textutil.NormalizeLabel(label)
	slot, ok := a.pool[norm]
	if !ok {
		slot = &poolSlot{labels: make(map[string]bool)}
		a.pool[norm] = slot
	}
	slot.labels[label] = true
	slot.occurrences = append(slot.occurrences, occ)
}

// Pending returns the number of distinct pooled labels.
func (a *Annotator) Pending() int { return len(a.pool) }

func (a *Annotator) writeRecord(year, seq int, msg archive.Message, props []Proposal) error {
	if props == nil {
		props = []Proposal{}
	}
	rec := messageRecord{
		Year:       year,
		Seq:        seq,
		Meta:       recordMeta{Date: msg.Date, From: msg.From, To: msg.To, Subject: msg.Subject},
		Proposals:  props,
		RawExcerpt: textutil.Truncate(msg.Raw, excerptRunes, ""),
	}
	path := filepath.Join(a.opts.AnalysisDir, JSONDir, strconv.Itoa(year), fmt.Sprintf("msg_%05d.json", seq))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// MarkBlock wraps a raw message block with one tag line per proposal and
// an end marker. Without proposals the block is returned unchanged.
func MarkBlock(raw string, props []Proposal) string {
	if len(props) == 0 {
		return raw
	}
	lines := make([]string, 0, len(props)+2)
	for _, p := range props {
		lines = append(lines, p.Tag())
	}
	lines = append(lines, raw, "[[[END]]]")
	return strings.Join(lines, "\n")
}

// Review actions.
const (
	ActionMappedExisting = "mapped_existing"
	ActionAppendedNew    = "appended_new"
	ActionNewCandidate   = "new_candidate"
)

// ReviewRow is one pooled label and what consolidation did with it.
type ReviewRow struct {
	NormLabel      string
	CanonicalLabel string
	MappedIndex    int // 0 for new candidates
	Action         string
	Years          []int
	Examples       string
}

func (r ReviewRow) record() []string {
	mapped := ""
	if r.MappedIndex != 0 {
		mapped = strconv.Itoa(r.MappedIndex)
	}
	years := make([]string, len(r.Years))
	for i, y := range r.Years {
		years[i] = strconv.Itoa(y)
	}
	return []string{r.NormLabel, r.CanonicalLabel, mapped, r.Action, strings.Join(years, "|"), r.Examples}
}

type fuzzyLabel struct {
	index  int
	label  string
	tokens map[string]struct{}
}

// Consolidate maps every pooled label onto the index: exact label or
// synonym first, then the best Jaccard match at or above FuzzyThreshold.
// Unmatched labels are appended as new entries unless NoAppend is set. The
// review CSV is written under the analysis directory.
func (a *Annotator) Consolidate() ([]ReviewRow, error) {
	exact := make(map[string]int)
	var fuzzy []fuzzyLabel
	for _, e := range a.index.Entries() {
		for _, lab := range append([]string{e.Label}, e.Synonyms...) {
			norm := textutil.NormalizeLabel(lab)
			if norm == "" {
				continue
			}
			exact[norm] = e.Index
			fuzzy = append(fuzzy, fuzzyLabel{index: e.Index, label: lab, tokens: textutil.TokenSet(lab)})
		}
	}

	norms := make([]string, 0, len(a.pool))
	for n := range a.pool {
		norms = append(norms, n)
	}
	sort.Strings(norms)

	today := a.opts.Now().UTC().Format("2006-01-02")
	rows := make([]ReviewRow, 0, len(norms))
	for _, norm := range norms {
		slot := a.pool[norm]
		variants := make([]string, 0, len(slot.labels))
		for l := range slot.labels {
			variants = append(variants, l)
		}
		sort.Strings(variants)
		first := variants[0]

		row := ReviewRow{NormLabel: norm, Years: occurrenceYears(slot.occurrences)}
		row.Examples = textutil.Truncate(strings.Join(variants, "; "), 200, "")

		if n, ok := exact[norm]; ok {
			row.MappedIndex, row.Action = n, ActionMappedExisting
			row.CanonicalLabel = a.canonical(n, first)
		} else if best, score := bestFuzzy(fuzzy, textutil.TokenSet(first)); score >= FuzzyThreshold {
			row.MappedIndex = best.index
			row.Action = fmt.Sprintf("mapped_fuzzy_%.2f", score)
			row.CanonicalLabel = a.canonical(best.index, best.label)
		} else if a.opts.NoAppend {
			row.Action, row.CanonicalLabel = ActionNewCandidate, first
		} else {
			n := a.index.Max() + 1
			entry := Entry{
				Index:     n,
				Label:     first,
				Parent:    n,
				Category:  DefaultCategory,
				Duration:  DefaultDuration,
				Source:    DefaultSource,
				CreatedAt: today,
				UpdatedAt: today,
				Owner:     DefaultOwner,
			}
			if err := a.index.Append(entry); err != nil {
				return rows, err
			}
			logging.Enjeux("appended enjeu #%d %q", n, first)
			row.MappedIndex, row.Action, row.CanonicalLabel = n, ActionAppendedNew, first
		}
		rows = append(rows, row)
	}

	if err := a.writeReview(rows); err != nil {
		return rows, err
	}
	return rows, nil
}

func (a *Annotator) canonical(n int, fallback string) string {
	if e, ok := a.index.Get(n); ok && e.Label != "" {
		return e.Label
	}
	return fallback
}

func bestFuzzy(labels []fuzzyLabel, tokens map[string]struct{}) (fuzzyLabel, float64) {
	var best fuzzyLabel
	bestScore := 0.0
	for _, l := range labels {
		if s := textutil.Jaccard(tokens, l.tokens); s > bestScore {
			best, bestScore = l, s
		}
	}
	return best, bestScore
}

func occurrenceYears(occ []Occurrence) []int {
	seen := make(map[int]bool)
	var years []int
	for _, o := range occ {
		if !seen[o.Year] {
			seen[o.Year] = true
			years = append(years, o.Year)
		}
	}
	sort.Ints(years)
	return years
}

func (a *Annotator) writeReview(rows []ReviewRow) error {
	path := filepath.Join(a.opts.AnalysisDir, ReviewFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ReviewFields); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logging.Audit().FileWrite(path, len(rows))
	return nil
}

// Summary is the outcome of Run.
type Summary struct {
	Years  []YearResult
	Review []ReviewRow
}

// Counts returns the number of mapped, appended and candidate labels.
func (s Summary) Counts() (mapped, appended, candidates int) {
	for _, r := range s.Review {
		switch {
		case strings.HasPrefix(r.Action, "mapped"):
			mapped++
		case r.Action == ActionAppendedNew:
			appended++
		case r.Action == ActionNewCandidate:
			candidates++
		}
	}
	return mapped, appended, candidates
}

// Run annotates the emails_YYYY.txt files of years found in archives, then
// consolidates the pooled labels. Missing year files are skipped.
func Run(archives string, years []int, index *Index, opts Options) (Summary, error) {
	timer := logging.StartTimer(logging.CategoryEnjeux, "Run")
	defer timer.Stop()

	if index.Len() == 0 {
		logging.EnjeuxWarn("enjeux index %s is empty or missing", index.Path())
	}
	a := NewAnnotator(index, opts)
	var sum Summary
	for _, y := range years {
		path := archive.YearFile(archives, y, false)
		if _, err := os.Stat(path); err != nil {
			logging.EnjeuxWarn("skipping %d: %v", y, err)
			continue
		}
		res, err := a.AnnotateYear(y, path)
		if err != nil {
			return sum, err
		}
		sum.Years = append(sum.Years, res)
	}
	rows, err := a.Consolidate()
	sum.Review = rows
	return sum, err
}
