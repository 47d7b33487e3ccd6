package topicminer

import (
	"autopn/internal/enjeux"
	"autopn/internal/logging"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Output files under the topics directory.
const (
	AllYearsFile = "topics_all_years.csv"
	TopPerYear   = 200
)

// RowFields is the header of topics_all_years.csv.
var RowFields = []string{"type", "text", "messages_count", "occurrences", "years", "mapped_index", "mapped_label", "match_method"}

// YearFields is the header of topics_by_year_<year>.csv.
var YearFields = []string{"text", "messages_count", "occurrences"}

// Row is one line of the all-years table.
type Row struct {
	Type        string
	Text        string
	Messages    int
	Occurrences int
	Years       []int
	MappedIndex int
	MappedLabel string
	MatchMethod string
}

func (r Row) record() []string {
	years := make([]string, len(r.Years))
	for i, y := range r.Years {
		years[i] = strconv.Itoa(y)
	}
	mapped := ""
	if r.MatchMethod != "" {
		mapped = strconv.Itoa(r.MappedIndex)
	}
	return []string{
		r.Type, r.Text, strconv.Itoa(r.Messages), strconv.Itoa(r.Occurrences),
		strings.Join(years, "|"), mapped, r.MappedLabel, r.MatchMethod,
	}
}

// Rows builds the all-years table, sorted by messages then occurrences
// descending, then text.
func (c *Corpus) Rows(concepts *Concepts) []Row {
	rows := make([]Row, 0, len(c.Tokens))
	for tok, n := range c.Tokens {
		r := Row{Type: "token", Text: tok, Messages: n.Messages, Occurrences: n.Occurrences, Years: n.Years}
		if idx, method, ok := concepts.Map(tok); ok {
			r.MappedIndex, r.MatchMethod, r.MappedLabel = idx, method, concepts.Label(idx)
		}
		rows = append(rows, r)
	}
	sortRows(rows)
	return rows
}

// YearRows returns the top tokens of year in the same order as Rows.
func (c *Corpus) YearRows(year, limit int) []Row {
	counts := c.ByYear[year]
	rows := make([]Row, 0, len(counts))
	for tok, n := range counts {
		rows = append(rows, Row{Type: "token", Text: tok, Messages: n.Messages, Occurrences: n.Occurrences, Years: []int{year}})
	}
	sortRows(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Messages != rows[j].Messages {
			return rows[i].Messages > rows[j].Messages
		}
		if rows[i].Occurrences != rows[j].Occurrences {
			return rows[i].Occurrences > rows[j].Occurrences
		}
		return rows[i].Text < rows[j].Text
	})
}

// Years returns the processed years in order.
func (c *Corpus) Years() []int {
	years := make([]int, 0, len(c.ByYear))
	for y := range c.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// WriteAll writes topics_all_years.csv and one topics_by_year_<year>.csv
// per year into outDir. It returns the written paths.
func WriteAll(outDir string, c *Corpus, rows []Row) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	all := make([][]string, len(rows))
	for i, r := range rows {
		all[i] = r.record()
	}
	path := filepath.Join(outDir, AllYearsFile)
	if err := writeCSV(path, RowFields, all); err != nil {
		return nil, err
	}
	written := []string{path}

	for _, y := range c.Years() {
		top := c.YearRows(y, TopPerYear)
		recs := make([][]string, len(top))
		for i, r := range top {
			recs[i] = []string{r.Text, strconv.Itoa(r.Messages), strconv.Itoa(r.Occurrences)}
		}
		p := filepath.Join(outDir, fmt.Sprintf("topics_by_year_%d.csv", y))
		if err := writeCSV(p, YearFields, recs); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logging.Audit().FileWrite(path, len(rows))
	return nil
}

// Result summarizes a mining run.
type Result struct {
	Messages int
	Tokens   int
	Mapped   int
	Files    []string
}

// Run mines the given years of archives, maps tokens onto idx and writes
// the tables into outDir.
func Run(ctx context.Context, archives string, years []int, idx *enjeux.Index, outDir string, workers int) (Result, error) {
	timer := logging.StartTimer(logging.CategoryTopics, "Run")
	defer timer.Stop()

	corpus, err := Collect(ctx, archives, years, workers)
	if err != nil {
		return Result{}, err
	}
	rows := corpus.Rows(NewConcepts(idx))
	res := Result{Messages: corpus.Messages, Tokens: len(rows)}
	for _, r := range rows {
		if r.MatchMethod != "" {
			res.Mapped++
		}
	}
	res.Files, err = WriteAll(outDir, corpus, rows)
	return res, err
}
