// Package analyze runs the per-message sophism analysis of a year archive
// and writes its events, the light topics CSV and the HTML report.
package analyze

import (
	"autopn/internal/llm"
	"autopn/internal/logging"
	"autopn/internal/taxonomy"
	"encoding/json"
	"strings"
)

// Strings is a JSON list of strings that also accepts a bare string and
// drops non-string items.
type Strings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Strings) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) != "" {
			*s = Strings{one}
		}
		return nil
	}
	var many []any
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	out := make(Strings, 0, len(many))
	for _, v := range many {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	*s = out
	return nil
}

// Sophism is one fallacy found in a message.
type Sophism struct {
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Explanation  string  `json:"explanation"`
	Quotes       Strings `json:"quotes"`
	OriginalName string  `json:"original_name,omitempty"`
}

// RealMatter is what a speaker actually wants, openly or not.
type RealMatter struct {
	Speaker      string  `json:"speaker"`
	OpenOrHidden string  `json:"open_or_hidden"`
	Phrases      Strings `json:"phrases"`
	WhyHidden    string  `json:"why_hidden"`
}

// Hidden reports whether the matter was marked hidden.
func (r RealMatter) Hidden() bool {
	return strings.EqualFold(strings.TrimSpace(r.OpenOrHidden), "hidden")
}

// Excuse is a fallacious excuse or argument.
type Excuse struct {
	Speaker     string  `json:"speaker"`
	Label       string  `json:"label"`
	Phrases     Strings `json:"phrases"`
	Explanation string  `json:"explanation"`
}

// Misuse is a valid point used to the wrong end.
type Misuse struct {
	Speaker     string  `json:"speaker"`
	Description string  `json:"description"`
	Phrases     Strings `json:"phrases"`
	Explanation string  `json:"explanation"`
}

// Analysis is the model's answer for one message.
type Analysis struct {
	Sophisms          []Sophism    `json:"sophisms"`
	RealMatters       []RealMatter `json:"real_matters"`
	FallaciousExcuses []Excuse     `json:"fallacious_excuses"`
	ValidButMisused   []Misuse     `json:"valid_but_misused"`
	MajorPoints       Strings      `json:"major_points"`
}

// HasFindings reports whether any finding section is non-empty.
func (a Analysis) HasFindings() bool {
	return len(a.Sophisms)+len(a.RealMatters)+len(a.FallaciousExcuses)+len(a.ValidButMisused) > 0
}

// ParseAnalysis decodes a model response. Text around the JSON object is
// ignored; a section that is missing or malformed is left empty.
func ParseAnalysis(raw string) Analysis {
	var out Analysis
	var sections map[string]json.RawMessage
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &sections); err != nil {
		logging.AnalyzeWarn("unparseable analysis, using empty sections: %v", err)
		return out
	}

	decode := func(key string, dst any) {
		data, ok := sections[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(data, dst); err != nil {
			logging.AnalyzeDebug("section %s partially decoded: %v", key, err)
		}
	}
	decode("sophisms", &out.Sophisms)
	decode("real_matters", &out.RealMatters)
	decode("fallacious_excuses", &out.FallaciousExcuses)
	decode("valid_but_misused", &out.ValidButMisused)
	decode("major_points", &out.MajorPoints)
	return out
}

// ApplyTaxonomy maps sophism names onto the nomenclature in normalize and
// strict modes, keeping the model's name in OriginalName.
func (a *Analysis) ApplyTaxonomy(t *taxonomy.Taxonomy) {
	if t == nil || (t.Mode() != taxonomy.ModeNormalize && t.Mode() != taxonomy.ModeStrict) {
		return
	}
	for i := range a.Sophisms {
		s := &a.Sophisms[i]
		name := strings.TrimSpace(s.Name)
		cat := strings.TrimSpace(s.Category)
		n, c := t.Normalize(name, cat)
		if c == "" {
			c = cat
		}
		s.OriginalName = name
		s.Name = n
		s.Category = c
	}
}
