package consolidate

import (
	"autopn/internal/events"
	"autopn/internal/textutil"
	"fmt"
	"os"
)

// SeedFact is a trusted fact from the seed file.
type SeedFact struct {
	ID     string
	Locked bool
}

// Seed maps canonical fact text to its seed entry.
type Seed map[string]SeedFact

// LoadSeed reads facts_seed.csv (canonical_text, fact_ref_id, locked).
// A missing file is an empty seed.
func LoadSeed(path string) (Seed, error) {
	seed := make(Seed)
	if path == "" {
		return seed, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return seed, nil
	}
	rows, err := events.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts seed: %w", err)
	}
	for _, row := range rows {
		text := canonicalFact(row["canonical_text"])
		if text == "" {
			continue
		}
		id := row.Get("fact_ref_id")
		if id == "" {
			id = textutil.HashID("FREF", text, 8)
		}
		switch row.Get("locked") {
		case "1", "true", "True":
			seed[text] = SeedFact{ID: id, Locked: true}
		default:
			seed[text] = SeedFact{ID: id}
		}
	}
	return seed, nil
}

func canonicalFact(s string) string {
	return textutil.NormSpace(s)
}
