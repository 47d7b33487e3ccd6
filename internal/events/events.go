// Package events reads and writes the events CSV: one row per argument
// occurrence detected in a message, consumed by the consolidation pipeline.
package events

import (
	"autopn/internal/logging"
	"autopn/internal/textutil"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Fields is the column order of the events CSV.
var Fields = []string{
	"email_id",
	"date_iso",
	"speaker_name",
	"speaker_email",
	"theme",
	"topic_name",
	"topic_side",
	"topic_visibility",
	"hidden_topic_hint",
	"hidden_topic_confidence",
	"argument_ref_name",
	"argument_text",
	"reasoning_name",
	"sophism_name",
	"sophism_category",
	"fact_texts",
	"statement_type",
	"will_texts",
	"complaint_object",
	"complaint_strength",
	"email_excerpt",
	"relevance",
	"reasoning_credibility",
	"impact_score",
	"impact_direction",
}

// Event is one row of the events CSV. Scores are kept as text; Sink
// normalizes them.
type Event struct {
	EmailID               string
	DateISO               string
	SpeakerName           string
	SpeakerEmail          string
	Theme                 string
	TopicName             string
	TopicSide             string
	TopicVisibility       string
	HiddenTopicHint       string
	HiddenTopicConfidence string
	ArgumentRefName       string
	ArgumentText          string
	ReasoningName         string
	SophismName           string
	SophismCategory       string
	FactTexts             string
	StatementType         string
	WillTexts             string
	ComplaintObject       string
	ComplaintStrength     string
	EmailExcerpt          string
	Relevance             string
	ReasoningCredibility  string
	ImpactScore           string
	ImpactDirection       string
}

// Values returns the row in Fields order with score columns normalized.
func (e Event) Values() []string {
	return []string{
		e.EmailID,
		e.DateISO,
		e.SpeakerName,
		e.SpeakerEmail,
		e.Theme,
		e.TopicName,
		e.TopicSide,
		e.TopicVisibility,
		e.HiddenTopicHint,
		e.HiddenTopicConfidence,
		e.ArgumentRefName,
		e.ArgumentText,
		e.ReasoningName,
		e.SophismName,
		e.SophismCategory,
		e.FactTexts,
		e.StatementType,
		e.WillTexts,
		e.ComplaintObject,
		e.ComplaintStrength,
		e.EmailExcerpt,
		normalizeScore(e.Relevance),
		normalizeScore(e.ReasoningCredibility),
		normalizeScore(e.ImpactScore),
		e.ImpactDirection,
	}
}

// Score formats a score for an Event field.
func Score(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func normalizeScore(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ""
	}
	return Score(f)
}

// Sink appends events to a CSV file, writing the header once.
type Sink struct {
	path string
	mu   sync.Mutex
	rows int
}

// NewSink opens path for appending, creating the file and header if needed.
// With truncate the file is recreated.
func NewSink(path string, truncate bool) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	if truncate {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to reset events file: %w", err)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create events file: %w", err)
		}
		w := csv.NewWriter(f)
		w.Write(Fields)
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write events header: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		logging.ReportDebug("created events file %s", path)
	}
	return &Sink{path: path}, nil
}

// Path returns the CSV location.
func (s *Sink) Path() string { return s.path }

// Count returns the number of rows written through this sink.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Write appends one event.
func (s *Sink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(e.Values()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	s.rows++
	return nil
}

// Row is a CSV record keyed by header name.
type Row map[string]string

// Get returns the first non-empty value among keys.
func (r Row) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// Read loads every row of a CSV file keyed by its header. Short rows get
// empty values; extra cells are ignored.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(f)
}

// ReadFrom is Read over an arbitrary reader.
func ReadFrom(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logging.ConsolidateWarn("skipping malformed CSV record: %v", err)
			continue
		}
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GuessTheme returns the label whose keywords hit text the most, "General"
// when none hits. Ties go to the label first in alphabetical order.
func GuessTheme(text string, keywords map[string][]string) string {
	normalized := textutil.NormSpace(strings.ToLower(text))

	labels := make([]string, 0, len(keywords))
	for label := range keywords {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestHits := "", 0
	for _, label := range labels {
		hits := 0
		for _, term := range keywords[label] {
			if term != "" && strings.Contains(normalized, strings.ToLower(term)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = label, hits
		}
	}
	if best == "" {
		return "General"
	}
	return best
}
