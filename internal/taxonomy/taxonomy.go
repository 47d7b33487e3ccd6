// Package taxonomy maps free-form sophism names returned by the model onto
// a reference nomenclature.
package taxonomy

import (
	"autopn/internal/logging"
	"autopn/internal/textutil"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode controls how the nomenclature is used.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeHint      Mode = "hint"
	ModeNormalize Mode = "normalize"
	ModeStrict    Mode = "strict"
)

// Names given to unmatched sophisms in strict mode.
const (
	UnclassifiedName     = "Autre / Non classé"
	UnclassifiedCategory = "Autre"
)

// closeMatchCutoff is the minimum similarity for a fuzzy name match.
const closeMatchCutoff = 0.78

// ParseMode validates a mode string. Empty means off.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeOff, nil
	case ModeOff, ModeHint, ModeNormalize, ModeStrict:
		return m, nil
	default:
		return "", fmt.Errorf("invalid taxonomy mode %q (valid: off, hint, normalize, strict)", s)
	}
}

// Entry is one sophism of the YAML file.
type Entry struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Aliases  []string `yaml:"aliases"`
}

// builtinAliases extends the YAML aliases of well-known entries.
var builtinAliases = map[string][]string{
	"Hors sujet / diversion":            {"hors sujet", "diversion", "off topic", "répond à côté", "déviation", "évasion"},
	"Red herring (fausse piste)":        {"red herring", "fausse piste", "leurre"},
	"Glissement de sujet":               {"changement de sujet", "déplacement du sujet"},
	"Argument d'autorité":               {"appel à l'autorité", "autorité", "argument d’autorité"},
	"Appel à la tradition":              {"on a toujours fait comme ça", "tradition"},
	"Appel au rôle familial":            {"bon fils", "bonne mère", "devoir filial", "rôle familial"},
	"Inversion accusatoire":             {"retournement accusatoire"},
	"Projection psychologique":          {"projection"},
	"Contradiction / Mensonge flagrant": {"mensonge", "contradiction"},
	"Esquive / absence de réponse":      {"éluder", "ne répond pas", "éviter la question"},
	"Demande impossible":                {"conditions irréalistes", "inatteignable"},
	"Double discours":                   {"contradictions dans le temps"},
	"Argumentation en rafale":           {"gish gallop", "tir de barrage"},
	"Confusion volontaire":              {"mélanger les faits", "brouiller"},
	"Fausse liste de reproches":         {"accusations vagues", "catalogue de reproches"},
}

// Taxonomy is a loaded nomenclature.
type Taxonomy struct {
	mode  Mode
	canon map[string]Entry
	names []string
	cats  []string
}

// New builds a taxonomy from entries.
func New(entries []Entry, mode Mode) *Taxonomy {
	t := &Taxonomy{mode: mode, canon: make(map[string]Entry)}
	names := make(map[string]bool)
	cats := make(map[string]bool)
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		e.Category = strings.TrimSpace(e.Category)
		if e.Name == "" {
			continue
		}
		names[e.Name] = true
		if e.Category != "" {
			cats[e.Category] = true
		}
		keys := []string{textutil.CanonKey(e.Name)}
		for _, a := range e.Aliases {
			keys = append(keys, textutil.CanonKey(a))
		}
		for _, a := range builtinAliases[e.Name] {
			keys = append(keys, textutil.CanonKey(a))
		}
		for _, k := range keys {
			if k != "" {
				t.canon[k] = Entry{Name: e.Name, Category: e.Category}
			}
		}
	}
	t.names = sortedKeys(names)
	t.cats = sortedKeys(cats)
	return t
}

// Load reads the YAML list at path. A missing file yields an empty
// nomenclature.
func Load(path string, mode Mode) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.AnalyzeWarn("taxonomy file %s not found, continuing without nomenclature", path)
		return New(nil, mode), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy %s: %w", path, err)
	}
	t := New(entries, mode)
	logging.AnalyzeDebug("taxonomy: %d names, %d categories, %d keys", len(t.names), len(t.cats), len(t.canon))
	return t, nil
}

// Mode returns the configured mode.
func (t *Taxonomy) Mode() Mode { return t.mode }

// Names returns the canonical names, sorted.
func (t *Taxonomy) Names() []string { return t.names }

// Categories returns the categories, sorted.
func (t *Taxonomy) Categories() []string { return t.cats }

// Hint returns the prompt block listing the nomenclature, empty unless the
// mode is hint or strict.
func (t *Taxonomy) Hint() string {
	if t == nil || (t.mode != ModeHint && t.mode != ModeStrict) {
		return ""
	}
	names, cats := "—", "—"
	if len(t.names) > 0 {
		names = strings.Join(t.names, ", ")
	}
	if len(t.cats) > 0 {
		cats = strings.Join(t.cats, ", ")
	}
	return "Nomenclature de référence (utilise ces libellés si pertinent) :\n" +
		"- Noms canoniques: " + names + "\n- Catégories: " + cats + "\n"
}

// Lookup maps name onto the nomenclature: canonical key first, then the
// closest canonical name.
func (t *Taxonomy) Lookup(name, category string) (string, string, bool) {
	if hit, ok := t.canon[textutil.CanonKey(name)]; ok {
		return hit.Name, firstNonEmpty(hit.Category, category), true
	}
	if match, ok := textutil.CloseMatch(name, t.names, closeMatchCutoff); ok {
		if hit, ok := t.canon[textutil.CanonKey(match)]; ok {
			return hit.Name, firstNonEmpty(hit.Category, category), true
		}
	}
	return name, category, false
}

// Normalize applies the mode to a (name, category) pair. Off and hint
// modes leave it unchanged; strict mode files unmatched names under
// UnclassifiedName.
func (t *Taxonomy) Normalize(name, category string) (string, string) {
	if t == nil || (t.mode != ModeNormalize && t.mode != ModeStrict) {
		return name, category
	}
	n, c, ok := t.Lookup(strings.TrimSpace(name), strings.TrimSpace(category))
	if !ok && t.mode == ModeStrict {
		return UnclassifiedName, UnclassifiedCategory
	}
	return n, c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
