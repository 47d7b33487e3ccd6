package usage

// UsageData is the document persisted in usage.json.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds token counters broken down by dimension.
type AggregatedStats struct {
	Total      TokenCounts            `json:"total"`
	ByProvider map[string]TokenCounts `json:"by_provider"`
	ByModel    map[string]TokenCounts `json:"by_model"`
	ByCommand  map[string]TokenCounts `json:"by_command"`  // autopn analyze, autopn reply...
	ByRelation map[string]TokenCounts `json:"by_relation"` // relation id, "-" when none
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Calls  int64 `json:"calls"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add counts one call.
func (tc *TokenCounts) Add(input, output int) {
	tc.Calls++
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}

func (s *AggregatedStats) init() {
	if s.ByProvider == nil {
		s.ByProvider = make(map[string]TokenCounts)
	}
	if s.ByModel == nil {
		s.ByModel = make(map[string]TokenCounts)
	}
	if s.ByCommand == nil {
		s.ByCommand = make(map[string]TokenCounts)
	}
	if s.ByRelation == nil {
		s.ByRelation = make(map[string]TokenCounts)
	}
}
