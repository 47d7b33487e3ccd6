// Package enjeux annotates archived messages with the stakes (enjeux) of a
// relationship, using a curated index of labels and synonyms plus keyword
// heuristics, and folds new proposals back into the index.
package enjeux

import (
	"autopn/internal/textutil"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// IndexFields is the header of enjeux_index.csv.
var IndexFields = []string{
	"index", "etiquette", "parent_index", "synonymes", "category",
	"duration", "source", "created_at", "updated_at", "owner_email",
}

// Defaults of entries created from proposals.
const (
	DefaultCategory = "MIN"
	DefaultDuration = "LT"
	DefaultSource   = "AI"
	DefaultOwner    = "AI"
)

var bom = []byte("\ufeff")

// Entry is one stake of the index.
type Entry struct {
	Index     int
	Label     string
	Parent    int // 0 when none
	Synonyms  []string
	Category  string
	Duration  string
	Source    string
	CreatedAt string
	UpdatedAt string
	Owner     string
}

// Tokens returns the lowercased label and synonyms used for matching.
func (e *Entry) Tokens() []string {
	var out []string
	if e.Label != "" {
		out = append(out, strings.ToLower(e.Label))
	}
	for _, s := range e.Synonyms {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

func (e *Entry) record() []string {
	parent := ""
	if e.Parent != 0 {
		parent = strconv.Itoa(e.Parent)
	}
	return []string{
		strconv.Itoa(e.Index), e.Label, parent, strings.Join(e.Synonyms, "|"),
		e.Category, e.Duration, e.Source, e.CreatedAt, e.UpdatedAt, e.Owner,
	}
}

// Index is the loaded enjeux_index.csv.
type Index struct {
	path    string
	comma   rune
	entries map[int]*Entry
	max     int
}

// LoadIndex reads the index at path. A missing file is an empty index.
// The delimiter is sniffed among ; , | and tab, and header names are
// matched without accents or case.
func LoadIndex(path string) (*Index, error) {
	idx := &Index{path: path, comma: ',', entries: make(map[int]*Entry)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read enjeux index: %w", err)
	}
	data = bytes.TrimPrefix(data, bom)
	idx.comma = sniffDelimiter(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = idx.comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read enjeux index header: %w", err)
	}
	for i, h := range header {
		header[i] = textutil.DeaccentLower(strings.TrimPrefix(h, "\ufeff"))
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		row := make(map[string]string, len(header))
		blank := true
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
				if row[h] != "" {
					blank = false
				}
			}
		}
		if blank {
			continue
		}
		e, ok := parseEntry(row)
		if !ok {
			continue
		}
		idx.entries[e.Index] = e
		idx.max = max(idx.max, e.Index)
	}
	return idx, nil
}

func field(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return ""
}

func parseEntry(row map[string]string) (*Entry, bool) {
	n, err := strconv.Atoi(field(row, "index", "id", "ndex"))
	if err != nil {
		return nil, false
	}
	e := &Entry{
		Index:     n,
		Label:     field(row, "etiquette", "label"),
		Category:  orDefault(field(row, "category"), DefaultCategory),
		Duration:  orDefault(field(row, "duration"), DefaultDuration),
		Source:    orDefault(field(row, "source"), DefaultSource),
		CreatedAt: field(row, "created_at"),
		UpdatedAt: field(row, "updated_at"),
		Owner:     field(row, "owner_email", "owner", "owner_emailindex"),
	}
	if p, err := strconv.Atoi(field(row, "parent_index", "parent")); err == nil {
		e.Parent = p
	}
	for _, s := range strings.Split(field(row, "synonymes", "synonyms"), "|") {
		if s = strings.TrimSpace(s); s != "" {
			e.Synonyms = append(e.Synonyms, s)
		}
	}
	return e, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// sniffDelimiter picks the candidate appearing most in the header line.
func sniffDelimiter(data []byte) rune {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	best, bestCount := ',', 0
	for _, c := range []rune{';', ',', '|', '\t'} {
		if n := bytes.Count(line, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// Path returns the index file.
func (x *Index) Path() string { return x.path }

// Len returns the number of entries.
func (x *Index) Len() int { return len(x.entries) }

// Max returns the highest index in use.
func (x *Index) Max() int { return x.max }

// Get returns the entry with index n.
func (x *Index) Get(n int) (*Entry, bool) {
	e, ok := x.entries[n]
	return e, ok
}

// Entries returns the entries ordered by index.
func (x *Index) Entries() []*Entry {
	out := make([]*Entry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FindLabel returns the entry whose label equals label, ignoring case.
func (x *Index) FindLabel(label string) (*Entry, bool) {
	for _, e := range x.Entries() {
		if strings.EqualFold(e.Label, label) {
			return e, true
		}
	}
	return nil, false
}

// Append adds e to the index and appends it to the file with the file's
// delimiter, writing the header first when the file is new.
func (x *Index) Append(e Entry) error {
	if _, ok := x.entries[e.Index]; ok {
		return fmt.Errorf("enjeu index %d already exists", e.Index)
	}
	_, statErr := os.Stat(x.path)
	if err := os.MkdirAll(filepath.Dir(x.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(x.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open enjeux index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = x.comma
	if os.IsNotExist(statErr) {
		if err := w.Write(IndexFields); err != nil {
			return fmt.Errorf("failed to write enjeux header: %w", err)
		}
	}
	if err := w.Write(e.record()); err != nil {
		return fmt.Errorf("failed to append enjeu: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to append enjeu: %w", err)
	}

	x.entries[e.Index] = &e
	x.max = max(x.max, e.Index)
	return nil
}
