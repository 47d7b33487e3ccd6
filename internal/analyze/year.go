package analyze

import (
	"autopn/internal/archive"
	"autopn/internal/events"
	"autopn/internal/logging"
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// YearResult summarizes ProcessYear.
type YearResult struct {
	Year      int
	Stats     Stats
	Failed    int
	Events    int
	LightRows int
	HTMLPath  string
}

// ProcessYear analyzes every message of the year file at inPath, appends
// events to sink and findings to light, and writes the HTML report into
// htmlDir. A message the model fails on is logged and reported empty.
func (a *Analyzer) ProcessYear(ctx context.Context, year int, inPath, htmlDir string, sink *events.Sink, light *LightCSV) (YearResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalyze, fmt.Sprintf("ProcessYear(%d)", year))
	defer timer.Stop()

	res := YearResult{Year: year}
	msgs, err := archive.ReadFile(inPath)
	if err != nil {
		return res, err
	}
	if a.opts.MaxMessages > 0 && len(msgs) > a.opts.MaxMessages {
		msgs = msgs[:a.opts.MaxMessages]
	}
	logging.Analyze("%d messages | year %d | relation %s | taxonomy %s",
		len(msgs), year, a.opts.RelationName, a.taxonomyMode())

	analyses := make([]Analysis, len(msgs))
	failed := make([]bool, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i := range msgs {
		g.Go(func() error {
			logging.AnalyzeDebug("message %d/%d", i+1, len(msgs))
			an, err := a.AnalyzeMessage(gctx, year, msgs, i)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.AnalyzeError("%v", err)
				failed[i] = true
				return nil
			}
			analyses[i] = an
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	stats := Stats{Messages: len(msgs), ByCategory: make(map[string]int)}
	var rows []LightRow
	for i, msg := range msgs {
		if failed[i] {
			res.Failed++
		}
		an := analyses[i]
		for _, e := range a.Events(year, i, msg, an) {
			if err := sink.Write(e); err != nil {
				return res, err
			}
			res.Events++
		}
		rows = append(rows, a.LightRows(year, i, msg, an)...)

		if an.HasFindings() {
			stats.WithFindings++
		}
		stats.Sophisms += len(an.Sophisms)
		for _, s := range an.Sophisms {
			cat := strings.TrimSpace(s.Category)
			if cat == "" {
				cat = "Autre"
			}
			stats.ByCategory[cat]++
		}
	}

	added, err := light.Append(rows)
	if err != nil {
		return res, err
	}
	res.LightRows = added
	stats.Topics = light.Len()
	res.Stats = stats

	path, err := WriteHTML(htmlDir, Report{
		Relation:  a.opts.RelationName,
		Year:      year,
		Mode:      a.taxonomyMode(),
		Generated: a.opts.Now(),
		Messages:  msgs,
		Analyses:  analyses,
		Stats:     stats,
	})
	if err != nil {
		return res, err
	}
	res.HTMLPath = path
	logging.Analyze("year %d: %d events, %d light rows, %d failed, report %s",
		year, res.Events, res.LightRows, res.Failed, path)
	return res, nil
}

func (a *Analyzer) taxonomyMode() string {
	if a.opts.Taxonomy == nil {
		return "off"
	}
	return string(a.opts.Taxonomy.Mode())
}
