package consolidate

import (
	"autopn/internal/events"
	"fmt"
	"path/filepath"
	"time"
)

// Job describes one consolidation run over files.
type Job struct {
	EventsPath     string
	OutDir         string
	SeedPath       string
	OwnerEmails    []string
	RelationEmails []string
	Now            func() time.Time
}

// Inputs lists the files whose changes invalidate the outputs.
func (j Job) Inputs() []string {
	in := []string{j.EventsPath, filepath.Join(j.OutDir, ArgTuningFile), filepath.Join(j.OutDir, FactTuningFile)}
	if j.SeedPath != "" {
		in = append(in, j.SeedPath)
	}
	return in
}

// Run reads the events, seed and tuning files, consolidates them and writes
// the outputs into OutDir.
func (j Job) Run() (*Result, []string, error) {
	rows, err := events.Read(j.EventsPath)
	if err != nil {
		return nil, nil, err
	}
	seed, err := LoadSeed(j.SeedPath)
	if err != nil {
		return nil, nil, err
	}
	argTuning, err := LoadTuning(filepath.Join(j.OutDir, ArgTuningFile), "arg_ref_id")
	if err != nil {
		return nil, nil, err
	}
	factTuning, err := LoadTuning(filepath.Join(j.OutDir, FactTuningFile), "fact_ref_id")
	if err != nil {
		return nil, nil, err
	}

	opts := Options{
		OwnerEmails:    j.OwnerEmails,
		RelationEmails: j.RelationEmails,
		Seed:           seed,
		ArgTuning:      argTuning,
		FactTuning:     factTuning,
	}
	if j.Now != nil {
		opts.Now = j.Now()
	}

	res, err := Build(rows, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("consolidate %s: %w", j.EventsPath, err)
	}
	written, err := WriteAll(j.OutDir, res)
	if err != nil {
		return res, written, err
	}
	return res, written, nil
}
