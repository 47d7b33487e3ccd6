package analyze

import (
	"autopn/internal/archive"
	"autopn/internal/textutil"
	"strings"
	"text/template"
	"unicode/utf8"
)

// SystemPrompt is sent with every per-message analysis.
const SystemPrompt = "Tu es un analyste rigoureux des échanges familiaux et des sophismes. " +
	"RÉPONDS STRICTEMENT EN JSON VALIDE, SANS TEXTE HORS JSON."

// contextCap bounds each neighbour body quoted in the prompt.
const contextCap = 1200

var userTmpl = template.Must(template.New("user").Parse(`
Analyse UN e-mail avec un peu de contexte. Retourne STRICTEMENT du JSON au format ci-dessous.

Objectif (réflexion silencieuse d’abord) :
1) Repérer les sophismes (expéditeur OU interlocuteur) : nom + catégorie + explication + citations EXACTES (<=240c).
2) Inférer les VRAIS SUJETS (“real_matters”) : ce que {{.RelationName}} veut/demande/insinue, ce que {{.OwnerName}} veut/propose ;
   note OPEN vs HIDDEN et “why_hidden” si caché. Donne 1–3 formulations courtes par item.
3) Lister :
   - excuses/arguments fallacieux (mauvais arguments)  → speaker + label + 1–3 expressions + explication
   - arguments valides mais mal employés → speaker + description + 1–3 expressions + explication
4) Ajouter “major_points” (quelques bullets pour mémoire).

{{.TaxonomyHint}}

FORMAT JSON EXACT :

{
  "sophisms": [
    { "name": "...", "category": "Diversion|Manipulation émotionnelle|Autorité ou légitimité|Inversion et falsification|Mauvaise foi|Saturation|...", "explanation": "...",
      "quotes": ["extrait exact", "extrait exact (<=240c)"] }
  ],
  "real_matters": [
    { "speaker": "{{.RelationName}}|{{.OwnerName}}", "open_or_hidden": "open|hidden",
      "phrases": ["phrase courte 1", "phrase courte 2"], "why_hidden": "..." }
  ],
  "fallacious_excuses": [
    { "speaker": "{{.RelationName}}|{{.OwnerName}}", "label": "nom court", "phrases": ["expr/phrase", "…"], "explanation": "..." }
  ],
  "valid_but_misused": [
    { "speaker": "{{.RelationName}}|{{.OwnerName}}", "description": "point vrai mais détourné", "phrases": ["expr/phrase"], "explanation": "..." }
  ],
  "major_points": ["…","…"]
}

Si rien n’est détecté dans une section, renvoie [].

=== FICHE MESSAGE ===
[FOCUS] Analyse prioritairement le message courant, mais utilise le contexte pour interpréter.
Date : {{.Msg.Date}}
From : {{.Msg.From}}
To   : {{.Msg.To}}
Subj : {{.Msg.Subject}}

=== CORPS COURANT ===
{{.Msg.Body}}

=== CONTEXTE AVANT (résumé brut) ===
{{.Before}}

=== CONTEXTE RELATIONNEL ===
{{.RelationContext}}

=== CONTEXTE APRÈS (résumé brut) ===
{{.After}}
`))

type promptData struct {
	TaxonomyHint    string
	OwnerName       string
	RelationName    string
	RelationContext string
	Msg             archive.Message
	Before          string
	After           string
}

// UserPrompt builds the prompt for msgs[i] with its neighbours as context.
func (a *Analyzer) UserPrompt(msgs []archive.Message, i int) string {
	d := promptData{
		TaxonomyHint:    a.opts.Taxonomy.Hint(),
		OwnerName:       a.opts.OwnerName,
		RelationName:    a.opts.RelationName,
		RelationContext: strings.TrimSpace(a.opts.RelationContext),
		Msg:             msgs[i],
	}
	if d.RelationContext == "" {
		d.RelationContext = "—"
	}
	if i > 0 {
		d.Before = summarize(msgs[i-1].Body, contextCap)
	}
	if i+1 < len(msgs) {
		d.After = summarize(msgs[i+1].Body, contextCap)
	}

	var b strings.Builder
	// the template only reads plain fields
	_ = userTmpl.Execute(&b, d)
	return b.String()
}

// summarize trims txt and cuts it to limit runes.
func summarize(txt string, limit int) string {
	t := strings.TrimSpace(txt)
	if utf8.RuneCountInString(t) <= limit {
		return t
	}
	return string([]rune(t)[:limit]) + "..."
}

// Speakers names the author of a message from its From header.
type Speakers struct {
	OwnerName      string
	RelationName   string
	OwnerEmails    []string
	RelationEmails []string
}

// Detect returns the relation name, the owner name or "Autre". Relation
// addresses are checked first.
func (s Speakers) Detect(from string) string {
	low := strings.ToLower(from)
	for _, addr := range s.RelationEmails {
		if addr != "" && strings.Contains(low, strings.ToLower(addr)) {
			return s.RelationName
		}
	}
	for _, addr := range s.OwnerEmails {
		if addr != "" && strings.Contains(low, strings.ToLower(addr)) {
			return s.OwnerName
		}
	}
	return "Autre"
}

// excerptWindow is the context kept on each side of an excerpt match.
const excerptWindow = 140

// ExtractAround returns the text around the first case-insensitive
// occurrence of needle, whitespace collapsed. Empty when not found.
func ExtractAround(needle, text string) string {
	n := strings.ToLower(strings.TrimSpace(needle))
	if n == "" || text == "" {
		return ""
	}
	// ToLower maps rune to rune, so rune offsets in lower match text
	runes := []rune(text)
	lower := strings.ToLower(text)
	pos := strings.Index(lower, n)
	if pos < 0 {
		return ""
	}
	start := utf8.RuneCountInString(lower[:pos])
	end := start + utf8.RuneCountInString(n) + excerptWindow
	start = max(0, start-excerptWindow)
	end = min(len(runes), end)
	return textutil.NormSpace(string(runes[start:end]))
}
