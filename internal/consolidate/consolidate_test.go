package consolidate

import (
	"autopn/internal/events"
	"autopn/internal/textutil"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func sampleRows() []events.Row {
	return []events.Row{
		{
			"email_id": "e1", "date_iso": "2021-01-02", "speaker_name": "Me", "speaker_email": "Me@x.org",
			"topic_name": "Logement", "topic_side": "PRO", "argument_text": "Le loyer est   payé",
			"fact_texts": "Loyer payé || Contrat signé", "relevance": "0.9", "reasoning_credibility": "0.6",
			"impact_score": "1.0", "hidden_topic_hint": "argent", "hidden_topic_confidence": "0.6",
		},
		{
			"email_id": "e2", "speaker_email": "rel@x.org", "topic_name": "Logement", "topic_side": "con",
			"argument_ref_name": "Loyer en retard", "argument_text": "tu paies toujours en retard",
			"fact_texts": "Loyer payé", "relevance": "0.5", "reasoning_credibility": "0.5", "impact_score": "0.6",
			"impact_direction": "negative", "hidden_topic_hint": "argent", "hidden_topic_confidence": "0.2",
		},
		{
			"email_id": "e3", "speaker_email": "other@x.org", "topic_name": "Logement", "topic_side": "pro",
			"argument_text": "Le loyer est payé", "fact_texts": "Contrat signé",
			"relevance": "0.33", "reasoning_credibility": "", "impact_score": "x", "impact_direction": "weird",
		},
		{
			"email_id": "e4", "relevance": "1",
		},
	}
}

func TestBuild_Facts(t *testing.T) {
	seed := Seed{"Contrat signé": {ID: "FREF-SEED", Locked: true}}
	res, err := Build(sampleRows(), Options{
		OwnerEmails:    []string{"me@x.org"},
		RelationEmails: []string{"REL@x.org"},
		Seed:           seed,
		Now:            fixedNow,
	})
	require.NoError(t, err)

	loyerID := textutil.HashID("FREF", "Loyer payé", 10)
	unspecID := textutil.HashID("FREF", "(fait non spécifié)", 10)

	want := []Fact{
		{ID: loyerID, CanonicalText: "Loyer payé", StatusPct: 25, StatusSource: "AI", StatusMethod: "contested",
			Rationale: "Au moins un contre-argument observé", ProOccurrences: 1, ConOccurrences: 1,
			FirstSeenEmailID: "e1", LastSeenEmailID: "e2", UpdatedAt: "2024-05-06T07:08:09Z"},
		{ID: "FREF-SEED", CanonicalText: "Contrat signé", StatusPct: 100, Locked: true, StatusSource: "Human",
			StatusMethod: "base_context", Rationale: "Locked from base_context", ProOccurrences: 2,
			FirstSeenEmailID: "e1", LastSeenEmailID: "e3", UpdatedAt: "2024-05-06T07:08:09Z"},
		{ID: unspecID, CanonicalText: "(fait non spécifié)", StatusPct: 25, StatusSource: "AI", StatusMethod: "contested",
			Rationale: "Au moins un contre-argument observé", ConOccurrences: 1,
			FirstSeenEmailID: "e4", LastSeenEmailID: "e4", UpdatedAt: "2024-05-06T07:08:09Z"},
	}
	if diff := cmp.Diff(want, res.Facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_FactsIgnoreTypographicSpaces(t *testing.T) {
	rows := []events.Row{
		{"email_id": "e1", "topic_name": "Vie commune", "topic_side": "pro", "argument_text": "Le loyer est payé", "fact_texts": "Loyer payé"},
		{"email_id": "e2", "topic_name": "Vie\u00a0commune", "topic_side": "pro", "argument_text": "Le loyer\u00a0est payé", "fact_texts": "Loyer\u00a0payé"},
		{"email_id": "e3", "topic_name": "Vie\u202fcommune", "topic_side": "pro", "argument_text": "Le\u202floyer est payé", "fact_texts": " Loyer\u202fpayé\u00a0"},
	}
	res, err := Build(rows, Options{Now: fixedNow})
	require.NoError(t, err)

	require.Len(t, res.Facts, 1)
	assert.Equal(t, textutil.HashID("FREF", "Loyer payé", 10), res.Facts[0].ID)
	assert.Equal(t, "Loyer payé", res.Facts[0].CanonicalText)
	assert.Equal(t, 3, res.Facts[0].ProOccurrences)

	require.Len(t, res.Arguments, 3)
	for _, l := range res.Arguments {
		assert.Equal(t, textutil.HashID("ARREF", "Le loyer est payé", 10), l.RefID)
		assert.Equal(t, "TOP-vie-commune", l.TopicID)
	}
}

func TestBuild_ArgumentLines(t *testing.T) {
	res, err := Build(sampleRows(), Options{
		OwnerEmails:    []string{"me@x.org"},
		RelationEmails: []string{"rel@x.org"},
		Seed:           Seed{"Contrat signé": {ID: "FREF-SEED", Locked: true}},
		Now:            fixedNow,
	})
	require.NoError(t, err)
	require.Len(t, res.Arguments, 5)

	strengths := make([]float64, 0, 5)
	for _, l := range res.Arguments {
		strengths = append(strengths, l.Strength)
	}
	assert.Equal(t, []float64{0.135, 0.54, 0.0375, 0.0625, 0.0625}, strengths)

	l := res.Arguments[0]
	assert.Equal(t, "ARG-L-0000001", l.LineID)
	assert.Equal(t, "User", l.SpeakerRole)
	assert.Equal(t, "me@x.org", l.SpeakerEmail)
	assert.Equal(t, "pro", l.TopicSide)
	assert.Equal(t, "TOP-logement", l.TopicID)
	assert.Equal(t, "Le loyer est payé", l.RefName)
	assert.Equal(t, textutil.HashID("ARREF", "Le loyer est payé", 10), l.RefID)
	assert.True(t, l.NeedsReview)
	assert.Equal(t, "2021-01-02", l.CreatedAt)

	// Both facts cited by the first event share one instance id.
	assert.Equal(t, res.Arguments[0].InstanceID, res.Arguments[1].InstanceID)
	assert.False(t, res.Arguments[1].NeedsReview)
	assert.Equal(t, 100, res.Arguments[1].FactVeracityPct)

	assert.Equal(t, "Relation", res.Arguments[2].SpeakerRole)
	assert.Equal(t, "negative", res.Arguments[2].ImpactDirection)
	assert.Equal(t, "Other", res.Arguments[3].SpeakerRole)
	assert.Equal(t, "positive", res.Arguments[3].ImpactDirection)
	assert.Equal(t, 0.25, res.Arguments[3].Relevance)
	assert.Equal(t, 0.5, res.Arguments[3].ReasoningCredibility)

	last := res.Arguments[4]
	assert.Equal(t, "TOP-NA", last.TopicID)
	assert.Equal(t, "con", last.TopicSide)
	assert.Equal(t, "(argument)", last.RefName)
	assert.Equal(t, "2024-05-06T07:08:09Z", last.CreatedAt)
	assert.Equal(t, "ARG-L-0000005", last.LineID)
}

func TestBuild_Rollup(t *testing.T) {
	conRef := textutil.HashID("ARREF", "Loyer en retard", 10)
	proRef := textutil.HashID("ARREF", "Le loyer est payé", 10)

	res, err := Build(sampleRows(), Options{
		Seed:      Seed{"Contrat signé": {ID: "FREF-SEED", Locked: true}},
		ArgTuning: TuningTable{conRef: {Multiplier: "2"}},
		Now:       fixedNow,
	})
	require.NoError(t, err)

	require.Len(t, res.Topics, 2)
	assert.Equal(t, "TOP-NA", res.Topics[0].ID)
	assert.Equal(t, "TOP-logement", res.Topics[1].ID)
	assert.Equal(t, "hidden", res.Topics[1].Visibility)
	assert.Equal(t, "argent", res.Topics[1].HiddenNotes)

	roll := res.Rollups[1]
	assert.Equal(t, Rollup{
		TopicID:              "TOP-logement",
		TopicName:            "Logement",
		Visibility:           "hidden",
		ProTotal:             0.54,
		ConTotal:             0.0375,
		ProTotalTuned:        0.54,
		ConTotalTuned:        0.075,
		ProUniqueArgs:        1,
		ConUniqueArgs:        1,
		OpenRatioHiddenHints: 0.667,
		TopHiddenNote:        "argent",
	}, roll)

	concl := res.Conclusions[1]
	assert.Equal(t, 0.465, concl.NetScore)
	assert.Equal(t, []RankedRef{{ID: proRef, Name: "Le loyer est payé", Strength: 0.54}}, concl.Pro)
	assert.Equal(t, []RankedRef{{ID: conRef, Name: "Loyer en retard", Strength: 0.075}}, concl.Con)

	na := res.Conclusions[0]
	assert.Equal(t, "open", na.Visibility)
	assert.Equal(t, -0.0625, na.NetScore)

	// Per-reference rows keep first-seen order inside a topic side.
	var logementArgs []RefStat
	for _, s := range res.ArgRefs {
		if s.TopicID == "TOP-logement" {
			logementArgs = append(logementArgs, s)
		}
	}
	require.Len(t, logementArgs, 2)
	assert.Equal(t, RefStat{
		TopicID: "TOP-logement", TopicName: "Logement", RefID: proRef, RefName: "Le loyer est payé", Side: "pro",
		Count: 3, Sum: 0.7375, Avg: 0.2458, Max: 0.54, Tuned: 0.54,
	}, logementArgs[0])
	assert.Equal(t, 0.075, logementArgs[1].Tuned)

	var factSides []string
	for _, s := range res.FactRefs {
		if s.TopicID == "TOP-logement" {
			factSides = append(factSides, s.Side+":"+s.RefID)
		}
	}
	assert.Equal(t, []string{
		"pro:" + textutil.HashID("FREF", "Loyer payé", 10),
		"pro:FREF-SEED",
		"con:" + textutil.HashID("FREF", "Loyer payé", 10),
	}, factSides)
}

func TestBuild_NoEvents(t *testing.T) {
	_, err := Build(nil, Options{})
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestSnapToBucket(t *testing.T) {
	cases := map[float64]float64{
		0.5:  0.5,
		0.33: 0.25,
		0.7:  0.75,
		2:    1.0,
		-1:   0.01,
		0.03: 0.01, // tie between 0.01 and 0.05 goes low
		0.58: 0.60,
	}
	for in, want := range cases {
		assert.Equal(t, want, SnapToBucket(in), "SnapToBucket(%v)", in)
	}
}

func TestStrength(t *testing.T) {
	assert.Equal(t, 0.0625, Strength(25, 0.5, 0.5, 1))
	assert.Equal(t, 0.0, Strength(42, 1, 1, 1))
	assert.Equal(t, 1.0, Strength(100, 1, 1, 1))
	assert.Equal(t, 0.0625, Strength(100, 0.25, 0.25, 1))

	// ties go to even on the exact binary value
	assert.Equal(t, 0.0312, Strength(100, 0.5, 0.25, 0.25))
	assert.Equal(t, 0.5062, Strength(100, 0.75, 0.75, 0.9))
	assert.Equal(t, 0.0312, Round(0.03125, 4))
	assert.Equal(t, 0.5, Round(0.49999, 4))
	assert.Equal(t, -0.0312, Round(-0.03125, 4))
}

func TestTuningApply(t *testing.T) {
	table := TuningTable{
		"A": {ManualStrength: "0.3"},
		"B": {Multiplier: "3"},
		"C": {ManualStrength: "bad", Multiplier: "0.5"},
		"D": {Multiplier: "nope"},
		"E": {ManualStrength: "1.4"},
		"F": {ManualStrength: "-0.2"},
	}
	assert.Equal(t, 0.3, table.Apply(0.9, "A"))
	assert.Equal(t, 1.0, table.Apply(0.5, "B"))
	assert.Equal(t, 0.9, table.Apply(0.9, "C"))
	assert.Equal(t, 0.4, table.Apply(0.4, "D"))
	assert.Equal(t, 1.0, table.Apply(1.7, "missing"))
	assert.Equal(t, 1.0, table.Apply(0.2, "E"))
	assert.Equal(t, 0.0, table.Apply(0.2, "F"))
}

func TestVisibility(t *testing.T) {
	vis, ratio, note := Visibility(nil, nil)
	assert.Equal(t, "open", vis)
	assert.Equal(t, 0.0, ratio)
	assert.Equal(t, "", note)

	vis, ratio, note = Visibility([]float64{0.5, 0.1, 0.1, 0.1, 0.9}, []string{"b", "a", "a", "b", "c"})
	assert.Equal(t, "hidden", vis)
	assert.Equal(t, 0.4, ratio)
	assert.Equal(t, "b", note)

	vis, _, _ = Visibility([]float64{0.1, 0.2, 0.6}, []string{"x", "x", "x"})
	assert.Equal(t, "open", vis)
}

func TestArgRefName(t *testing.T) {
	assert.Equal(t, "Nom", ArgRefName("  Nom ", "ignored"))
	assert.Equal(t, "(argument)", ArgRefName("", "  "))

	spaced := strings.Repeat("a", 100) + " " + strings.Repeat("b", 40)
	assert.Equal(t, strings.Repeat("a", 100)+"…", ArgRefName("", spaced))

	solid := strings.Repeat("é", 130)
	assert.Equal(t, strings.Repeat("é", 120)+"…", ArgRefName("", solid))

	early := strings.Repeat("a", 30) + " " + strings.Repeat("b", 100)
	got := []rune(ArgRefName("", early))
	assert.Len(t, got, 121)
}

func TestTopicIDAndSplitFacts(t *testing.T) {
	assert.Equal(t, "TOP-vie-de-famille-argent", TopicID("Vie de famille & argent!"))
	assert.Equal(t, "TOP-NA", TopicID("  !!  "))
	assert.Equal(t, "TOP-"+strings.Repeat("x", 32), TopicID(strings.Repeat("x", 40)))

	assert.Equal(t, []string{"A", "B", "C", "D"}, SplitFacts("A || B| C ;D;;"))
	assert.Nil(t, SplitFacts("  "))
}
