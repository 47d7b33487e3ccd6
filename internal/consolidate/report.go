package consolidate

import (
	"autopn/internal/logging"
	"encoding/csv"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Output file names written by WriteAll.
const (
	FactsFile       = "facts_master.csv"
	ArgumentsFile   = "arguments_master.csv"
	TopicsFile      = "topics_master.csv"
	ArgRefsFile     = "topics_argrefs_table.csv"
	FactRefsFile    = "topics_factrefs_table.csv"
	RollupFile      = "topics_rollup.csv"
	ConclusionsFile = "topics_conclusions.csv"
	ConclusionsHTML = "topics_conclusions.html"
	ArgTuningFile   = "argref_tuning.csv"
	FactTuningFile  = "factref_tuning.csv"
)

// WriteAll writes every table of res into outDir and returns the paths.
func WriteAll(outDir string, res *Result) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tables := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{FactsFile, factsHeader, factRows(res.Facts)},
		{ArgumentsFile, argumentsHeader, argumentRows(res.Arguments)},
		{TopicsFile, topicsHeader, topicRows(res.Topics)},
		{ArgRefsFile, argRefsHeader, refRows(res.ArgRefs, true)},
		{FactRefsFile, factRefsHeader, refRows(res.FactRefs, false)},
		{RollupFile, rollupHeader, rollupRows(res.Rollups)},
		{ConclusionsFile, conclusionsHeader, conclusionRows(res.Conclusions)},
	}

	var written []string
	for _, t := range tables {
		path := filepath.Join(outDir, t.name)
		if err := writeCSV(path, t.header, t.rows); err != nil {
			return written, err
		}
		logging.Audit().FileWrite(path, len(t.rows))
		written = append(written, path)
	}

	htmlPath := filepath.Join(outDir, ConclusionsHTML)
	if err := WriteHTML(htmlPath, res.Conclusions); err != nil {
		return written, err
	}
	written = append(written, htmlPath)
	logging.Report("wrote %d consolidation files to %s", len(written), outDir)
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
	return f.Close()
}

var factsHeader = []string{"fact_ref_id", "canonical_text", "status_pct", "locked", "status_source", "status_method", "rationale",
	"pro_occurrences", "con_occurrences", "first_seen_email_id", "last_seen_email_id", "updated_at"}

func factRows(facts []Fact) [][]string {
	rows := make([][]string, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []string{
			f.ID, f.CanonicalText, strconv.Itoa(f.StatusPct), boolInt(f.Locked), f.StatusSource, f.StatusMethod, f.Rationale,
			strconv.Itoa(f.ProOccurrences), strconv.Itoa(f.ConOccurrences), f.FirstSeenEmailID, f.LastSeenEmailID, f.UpdatedAt,
		})
	}
	return rows
}

var argumentsHeader = []string{"arg_line_id", "arg_instance_id", "arg_ref_id", "arg_ref_name", "argument_text", "email_id", "created_at",
	"speaker_name", "speaker_email", "speaker_role", "topic_id", "topic_side", "reasoning_name", "sophism_name", "sophism_category",
	"fact_ref_id", "fact_veracity_pct", "relevance", "reasoning_credibility", "impact_score", "impact_direction",
	"hidden_topic_hint", "hidden_topic_confidence", "strength", "needs_review", "notes"}

func argumentRows(lines []ArgLine) [][]string {
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []string{
			l.LineID, l.InstanceID, l.RefID, l.RefName, l.ArgumentText, l.EmailID, l.CreatedAt,
			l.SpeakerName, l.SpeakerEmail, l.SpeakerRole, l.TopicID, l.TopicSide, l.ReasoningName, l.SophismName, l.SophismCategory,
			l.FactRefID, strconv.Itoa(l.FactVeracityPct), formatFloat(l.Relevance), formatFloat(l.ReasoningCredibility),
			formatFloat(l.ImpactScore), l.ImpactDirection,
			l.HiddenTopicHint, formatFloat(l.HiddenTopicConfidence), formatFloat(l.Strength), boolInt(l.NeedsReview), l.Notes,
		})
	}
	return rows
}

var topicsHeader = []string{"topic_id", "topic_name", "visibility", "hidden_notes", "owner_speaker", "created_at", "updated_at"}

func topicRows(topics []Topic) [][]string {
	rows := make([][]string, 0, len(topics))
	for _, t := range topics {
		rows = append(rows, []string{t.ID, t.Name, t.Visibility, t.HiddenNotes, "", t.CreatedAt, t.UpdatedAt})
	}
	return rows
}

var argRefsHeader = []string{"topic_id", "topic_name", "arg_ref_id", "arg_ref_name", "side",
	"count_occurrences", "sum_strength", "avg_strength", "max_strength", "tuned_strength"}

var factRefsHeader = []string{"topic_id", "topic_name", "fact_ref_id", "side",
	"count_occurrences", "sum_strength", "avg_strength", "max_strength", "tuned_strength"}

func refRows(stats []RefStat, withName bool) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		row := []string{s.TopicID, s.TopicName, s.RefID}
		if withName {
			row = append(row, s.RefName)
		}
		row = append(row, s.Side, strconv.Itoa(s.Count),
			formatFloat(s.Sum), formatFloat(s.Avg), formatFloat(s.Max), formatFloat(s.Tuned))
		rows = append(rows, row)
	}
	return rows
}

var rollupHeader = []string{"topic_id", "topic_name", "visibility",
	"pro_total_strength", "con_total_strength",
	"pro_total_strength_tuned", "con_total_strength_tuned",
	"pro_unique_args", "con_unique_args",
	"open_ratio_hidden_hints", "top_hidden_note"}

func rollupRows(rollups []Rollup) [][]string {
	rows := make([][]string, 0, len(rollups))
	for _, r := range rollups {
		rows = append(rows, []string{
			r.TopicID, r.TopicName, r.Visibility,
			formatFloat(r.ProTotal), formatFloat(r.ConTotal),
			formatFloat(r.ProTotalTuned), formatFloat(r.ConTotalTuned),
			strconv.Itoa(r.ProUniqueArgs), strconv.Itoa(r.ConUniqueArgs),
			formatFloat(r.OpenRatioHiddenHints), r.TopHiddenNote,
		})
	}
	return rows
}

var conclusionsHeader = []string{"topic_id", "topic_name", "visibility",
	"pro_total_tuned", "con_total_tuned", "net_score",
	"pro_argrefs", "con_argrefs", "note_hidden"}

func conclusionRows(conclusions []Conclusion) [][]string {
	rows := make([][]string, 0, len(conclusions))
	for _, c := range conclusions {
		rows = append(rows, []string{
			c.TopicID, c.TopicName, c.Visibility,
			formatFloat(c.ProTotalTuned), formatFloat(c.ConTotalTuned), formatFloat(c.NetScore),
			PackRefs(c.Pro), PackRefs(c.Con), c.NoteHidden,
		})
	}
	return rows
}

// PackRefs renders "id::name::strength || ..." in list order.
func PackRefs(refs []RankedRef) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		parts = append(parts, fmt.Sprintf("%s::%s::%s", r.ID, r.Name, formatFloat(r.Strength)))
	}
	return strings.Join(parts, " || ")
}

// UnpackRefs parses a packed reference list, dropping malformed parts.
func UnpackRefs(s string) []RankedRef {
	var out []RankedRef
	for _, part := range strings.Split(s, "||") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bits := strings.Split(part, "::")
		if len(bits) != 3 {
			continue
		}
		out = append(out, RankedRef{
			ID:       strings.TrimSpace(bits[0]),
			Name:     strings.TrimSpace(bits[1]),
			Strength: parseFloat(bits[2], 0),
		})
	}
	return out
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SignedScore formats a net score with an explicit sign.
func SignedScore(f float64) string {
	if f < 0 {
		return "-" + formatFloat(-f)
	}
	return "+" + formatFloat(f)
}

var conclusionsTmpl = template.Must(template.New("conclusions").Funcs(template.FuncMap{
	"score":  formatFloat,
	"signed": SignedScore,
}).Parse(`<!doctype html><meta charset='utf-8'>
<style>body{font-family:sans-serif} .grid{display:grid;grid-template-columns:1fr 1fr;gap:16px;margin:16px 0} .topic{border:1px solid #ddd;padding:12px;border-radius:8px;margin:12px 0} .pro{background:#f1fff1} .con{background:#fff1f1} .pill{display:inline-block;padding:2px 8px;border-radius:12px;background:#eee;margin-left:8px} .score{font-weight:700} li{margin:4px 0}</style>
<h1>Topics — PRO vs CON</h1>
{{range .}}<div id='topic-{{.TopicID}}' class='topic'>
<h2>{{.TopicName}} <span class='pill'>visibilité: {{.Visibility}}</span> <span class='pill score'>net: {{signed .NetScore}}</span></h2>
{{if .NoteHidden}}<div><i>Hypothèse de sujet caché:</i> {{.NoteHidden}}</div>{{end}}
<div class='grid'>
<div class='pro'><h3>PRO</h3><ul>
{{range .Pro}}<li><b>{{.Name}}</b> <span class='pill'>{{score .Strength}}</span> <small>({{.ID}})</small></li>
{{end}}</ul></div>
<div class='con'><h3>CON</h3><ul>
{{range .Con}}<li><b>{{.Name}}</b> <span class='pill'>{{score .Strength}}</span> <small>({{.ID}})</small></li>
{{end}}</ul></div>
</div>
</div>
{{end}}`))

// WriteHTML renders the two-column PRO vs CON page.
func WriteHTML(path string, conclusions []Conclusion) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := conclusionsTmpl.Execute(f, conclusions); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}
