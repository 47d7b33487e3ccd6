package consolidate

import (
	"autopn/internal/events"
	"fmt"
	"os"
	"strings"
)

// Tuning is a manual override for one reference's base strength.
type Tuning struct {
	ManualStrength string
	Multiplier     string
	Notes          string
}

// TuningTable maps a reference id to its override.
type TuningTable map[string]Tuning

// LoadTuning reads a tuning CSV keyed by keyField. A missing file is an
// empty table.
func LoadTuning(path, keyField string) (TuningTable, error) {
	table := make(TuningTable)
	if path == "" {
		return table, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return table, nil
	}
	rows, err := events.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tuning %s: %w", path, err)
	}
	for _, row := range rows {
		key := row.Get(keyField)
		if key == "" {
			continue
		}
		table[key] = Tuning{
			ManualStrength: strings.TrimSpace(row["manual_strength"]),
			Multiplier:     strings.TrimSpace(row["multiplier"]),
			Notes:          strings.TrimSpace(row["notes"]),
		}
	}
	return table, nil
}

// Apply returns the tuned strength of a reference: the manual strength
// when set, else base times the multiplier (default 1). Always clamped.
func (t TuningTable) Apply(base float64, refID string) float64 {
	tu, ok := t[refID]
	if !ok {
		return Clamp01(base)
	}
	if tu.ManualStrength != "" {
		return Clamp01(parseFloat(tu.ManualStrength, base))
	}
	return Clamp01(base * parseFloat(tu.Multiplier, 1.0))
}
