package analyze

import (
	"autopn/internal/archive"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stats summarizes one analyzed year.
type Stats struct {
	Messages     int
	WithFindings int
	Sophisms     int
	Topics       int
	ByCategory   map[string]int
}

// CategoryCount is one row of the per-category summary.
type CategoryCount struct {
	Category string
	Count    int
}

// Categories returns the category counts, most frequent first.
func (s Stats) Categories() []CategoryCount {
	out := make([]CategoryCount, 0, len(s.ByCategory))
	for c, n := range s.ByCategory {
		out = append(out, CategoryCount{c, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// ReportFile is the HTML report name of year.
func ReportFile(year int) string {
	return fmt.Sprintf("emails_%d_sophismes.html", year)
}

type messageView struct {
	N    int
	Msg  archive.Message
	Body template.HTML
	An   Analysis
}

type reportView struct {
	Relation  string
	Year      int
	Mode      string
	Generated string
	Stats     Stats
	Messages  []messageView
}

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": func(s Strings) string { return strings.Join(s, "; ") },
	"first": func(n int, s Strings) Strings {
		if len(s) > n {
			return s[:n]
		}
		return s
	},
	"orDash": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "—"
		}
		return s
	},
	"renamed": func(s Sophism) bool {
		o := strings.TrimSpace(s.OriginalName)
		return o != "" && o != strings.TrimSpace(s.Name)
	},
}).Parse(`<!doctype html><html><head><meta charset='utf-8'><title>Sophismes {{.Year}}</title>
<style>
body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Arial,sans-serif;margin:24px;color:#222}
h1{font-size:24px;margin:0 0 6px}
.meta{color:#555;font-size:13px;margin-bottom:18px}
.summary{padding:12px 14px;background:#f5f7ff;border:1px solid #e3e8ff;border-radius:10px;margin-bottom:20px}
.grid{display:grid;grid-template-columns:repeat(4,1fr);gap:10px}
.kpi{background:#fff;border:1px solid #eee;border-radius:10px;padding:10px}
.kpi .n{font-weight:700;font-size:20px}
.msg{border:1px solid #eee;border-radius:12px;margin:18px 0;overflow:hidden}
.msg header{background:#fafafa;border-bottom:1px solid #eee;padding:10px 12px}
.msg header .line{font-size:13px;color:#444}
.msg .body{padding:14px 12px;line-height:1.5;background:#fff}
.msg .rapport{border-top:1px dashed #e5e5e5;padding:10px 12px;background:#fffef6}
.msg .rapport .item{padding:8px 10px;border:1px solid #f0e3a5;background:#fffbe0;border-radius:8px;margin:6px 0}
.badge{display:inline-block;padding:2px 8px;border-radius:999px;font-size:12px;background:#eef;border:1px solid #dde;margin-right:6px}
.hl{background:#fff34d}
.muted{color:#777;font-size:13px}
.empty{color:#aaa;font-style:italic}
@media (max-width:900px){.grid{grid-template-columns:1fr 1fr}}
@media (max-width:560px){.grid{grid-template-columns:1fr}}
</style></head><body>
<h1>Analyse des sophismes — {{.Relation}} — {{.Year}}</h1>
<div class='meta'>Mode taxonomie: {{.Mode}} · Généré le {{.Generated}}</div>
<div class="summary">
<div class="grid">
<div class='kpi'><div class='n'>{{.Stats.Messages}}</div><div class='muted'>Messages</div></div>
<div class='kpi'><div class='n'>{{.Stats.WithFindings}}</div><div class='muted'>Avec sophismes</div></div>
<div class='kpi'><div class='n'>{{.Stats.Sophisms}}</div><div class='muted'>Sophismes détectés</div></div>
<div class='kpi'><div class='n'>{{.Stats.Topics}}</div><div class='muted'>Topics (CSV)</div></div>
</div>
<div style="margin-top:10px"><b>Par catégorie :</b>
<div class="grid categories" style="margin-top:8px">
{{range .Stats.Categories}}<div class='kpi'><div class='n'>{{.Count}}</div><div class='muted'>{{.Category}}</div></div>
{{else}}<div class='muted'>—</div>{{end}}</div>
</div>
</div>
{{range .Messages}}<section class="msg" id="msg-{{.N}}">
<header>
<div><b>Message #{{.N}}</b></div>
<div class="line"><b>Date</b> : {{.Msg.Date}}</div>
<div class="line"><b>From</b> : {{.Msg.From}}</div>
<div class="line"><b>To</b>   : {{.Msg.To}}</div>
<div class="line"><b>Subj</b> : {{.Msg.Subject}}</div>
</header>
<div class="body">{{.Body}}</div>
{{if .An.HasFindings}}<div class='rapport'><h4>Rapport sophismes</h4>
{{range .An.Sophisms}}<div class="item sophism">
<div><span class="badge">{{orDash .Category}}</span><b>{{orDash .Name}}</b>{{if renamed .}} <span class='muted'>(orig: {{.OriginalName}})</span>{{end}}</div>
<div class="muted" style="margin:6px 0">{{.Explanation}}</div>
{{with first 3 .Quotes}}<div><b>Extraits :</b><ul>{{range .}}<li>« {{.}} »</li>{{end}}</ul></div>{{end}}
</div>
{{end}}{{with .An.RealMatters}}<div class='item'><div><b>Vrais sujets</b></div><ul>
{{range .}}<li><b>{{orDash .Speaker}}</b> — <i>{{orDash .OpenOrHidden}}</i> : {{join .Phrases}}{{with .WhyHidden}} <span class="muted">({{.}})</span>{{end}}</li>
{{end}}</ul></div>
{{end}}{{with .An.FallaciousExcuses}}<div class='item'><div><b>Excuses/arguments fallacieux</b></div><ul>
{{range .}}<li><b>{{orDash .Speaker}}</b> — {{orDash .Label}}: {{join .Phrases}} <span class='muted'>{{.Explanation}}</span></li>
{{end}}</ul></div>
{{end}}{{with .An.ValidButMisused}}<div class='item'><div><b>Arguments vrais mais mal employés</b></div><ul>
{{range .}}<li><b>{{orDash .Speaker}}</b> — {{orDash .Description}}: {{join .Phrases}} <span class='muted'>{{.Explanation}}</span></li>
{{end}}</ul></div>
{{end}}</div>
{{else}}<div class='rapport'><span class='empty'>Aucun sophisme détecté.</span></div>
{{end}}</section>
{{end}}</body></html>
`))

// Report is everything the HTML report of one year shows.
type Report struct {
	Relation  string
	Year      int
	Mode      string
	Generated time.Time
	Messages  []archive.Message
	Analyses  []Analysis
	Stats     Stats
}

// WriteHTML renders r into dir and returns the file path.
func WriteHTML(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	view := reportView{
		Relation:  r.Relation,
		Year:      r.Year,
		Mode:      r.Mode,
		Generated: r.Generated.Format("2006-01-02 15:04"),
		Stats:     r.Stats,
	}
	for i, msg := range r.Messages {
		var an Analysis
		if i < len(r.Analyses) {
			an = r.Analyses[i]
		}
		var quotes []string
		for _, s := range an.Sophisms {
			for _, q := range s.Quotes {
				if q = strings.TrimSpace(q); q != "" {
					quotes = append(quotes, q)
				}
			}
		}
		view.Messages = append(view.Messages, messageView{
			N:    i + 1,
			Msg:  msg,
			Body: HighlightBody(msg.Body, QuoteSpans(msg.Body, quotes)),
			An:   an,
		})
	}

	path := filepath.Join(dir, ReportFile(r.Year))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := reportTmpl.Execute(f, view); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
