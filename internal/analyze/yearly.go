package analyze

import (
	"autopn/internal/logging"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"unicode/utf8"
)

// ChunkSize is the default chunk length of the yearly analysis, in runes.
const ChunkSize = 6000

const yearlySystemPrompt = "Tu es un analyste rigoureux des échanges familiaux."

var yearlyTmpl = template.Must(template.New("yearly").Parse(`
Tu es un analyste spécialisé en communication manipulatoire.
Voici un extrait d'e-mails entre {{.Owner}} et {{.Relation}} pour l'année {{.Year}}.

Ta tâche :
- Identifier les sophismes utilisés par {{.Relation}} (pas ceux de {{.Owner}})
- Classer chaque sophisme (catégorie, nom)
- Expliquer pourquoi il s'agit d'un sophisme
- Résumer les points importants abordés dans cet extrait

Format attendu :
### Analyse Bloc X
- 📅 Dates couvertes : ...
- 🧠 Sophismes détectés :
  - "Citation" → [Nom] — [Catégorie] — [Explication]
- 🧩 Points majeurs abordés :
  - ...


[Début Bloc {{.Block}}]

{{.Chunk}}`))

// Chunks splits content into pieces of at most size runes, cutting at the
// last blank line of each window when there is one.
func Chunks(content string, size int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	var out []string
	rest := strings.TrimSpace(content)
	for rest != "" {
		window := rest
		if utf8.RuneCountInString(rest) > size {
			window = string([]rune(rest)[:size])
		}
		cut := strings.LastIndex(window, "\n\n")
		if cut <= 0 {
			cut = len(window)
		}
		if piece := strings.TrimSpace(rest[:cut]); piece != "" {
			out = append(out, piece)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	return out
}

// YearlyFile is the Markdown report name of year.
func YearlyFile(year int) string {
	return fmt.Sprintf("%d_sophismes.md", year)
}

// YearlyReport analyzes the year file at inPath chunk by chunk and writes
// the answers to <outDir>/<year>_sophismes.md. It returns the report path.
func (a *Analyzer) YearlyReport(ctx context.Context, year int, inPath, outDir string, size int) (string, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", inPath, err)
	}
	chunks := Chunks(string(data), size)
	logging.Analyze("yearly %d: %d chunks", year, len(chunks))

	var b strings.Builder
	for i, chunk := range chunks {
		logging.AnalyzeDebug("chunk %d/%d", i+1, len(chunks))
		var prompt strings.Builder
		_ = yearlyTmpl.Execute(&prompt, map[string]any{
			"Owner":    a.opts.OwnerName,
			"Relation": a.opts.RelationName,
			"Year":     year,
			"Block":    i + 1,
			"Chunk":    chunk,
		})
		out, err := a.complete(ctx, year, -(i + 1), yearlySystemPrompt, prompt.String())
		if err != nil {
			return "", err
		}
		b.WriteString(strings.TrimSpace(out))
		b.WriteString("\n\n")
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(outDir, YearlyFile(year))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	logging.Audit().FileWrite(path, len(chunks))
	return path, nil
}
