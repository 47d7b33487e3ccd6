package consolidate

import (
	"autopn/internal/events"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"
)

func writeEvents(t *testing.T, path string, rows []events.Event) {
	t.Helper()
	sink, err := events.NewSink(path, true)
	require.NoError(t, err)
	for _, e := range rows {
		require.NoError(t, sink.Write(e))
	}
}

func sampleEvents() []events.Event {
	return []events.Event{
		{EmailID: "e1", DateISO: "2021-01-02", SpeakerEmail: "me@x.org", TopicName: "Logement", TopicSide: "pro",
			ArgumentText: "Le loyer est payé", FactTexts: "Loyer payé || Contrat signé",
			Relevance: "0.9", ReasoningCredibility: "0.6", ImpactScore: "1", HiddenTopicHint: "argent", HiddenTopicConfidence: "0.6"},
		{EmailID: "e2", SpeakerEmail: "rel@x.org", TopicName: "Logement", TopicSide: "con",
			ArgumentRefName: "Loyer en retard", ArgumentText: "tu paies en retard", FactTexts: "Loyer payé",
			Relevance: "0.5", ReasoningCredibility: "0.5", ImpactScore: "0.6", ImpactDirection: "negative"},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestJobRun_WritesEveryOutput(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.csv")
	outDir := filepath.Join(dir, "out")
	writeEvents(t, eventsPath, sampleEvents())

	seedPath := filepath.Join(dir, "facts_seed.csv")
	require.NoError(t, os.WriteFile(seedPath, []byte("canonical_text,fact_ref_id,locked\nContrat signé,,true\n"), 0644))

	job := Job{
		EventsPath:     eventsPath,
		OutDir:         outDir,
		SeedPath:       seedPath,
		OwnerEmails:    []string{"me@x.org"},
		RelationEmails: []string{"rel@x.org"},
		Now:            func() time.Time { return fixedNow },
	}
	res, written, err := job.Run()
	require.NoError(t, err)
	require.Len(t, written, 8)

	for _, name := range []string{FactsFile, ArgumentsFile, TopicsFile, ArgRefsFile, FactRefsFile, RollupFile, ConclusionsFile, ConclusionsHTML} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	facts := readCSV(t, filepath.Join(outDir, FactsFile))
	assert.Equal(t, factsHeader, facts[0])
	require.Len(t, facts, 3)
	assert.True(t, strings.HasPrefix(facts[2][0], "FREF-"))
	assert.Equal(t, "Contrat signé", facts[2][1])
	assert.Equal(t, "100", facts[2][2])
	assert.Equal(t, "1", facts[2][3])
	assert.Len(t, facts[2][0], len("FREF-")+8)

	args := readCSV(t, filepath.Join(outDir, ArgumentsFile))
	assert.Equal(t, argumentsHeader, args[0])
	require.Len(t, args, 4)
	assert.Equal(t, "0.135", args[1][23])
	assert.Equal(t, "1.0", args[1][19])

	concl := readCSV(t, filepath.Join(outDir, ConclusionsFile))
	assert.Equal(t, conclusionsHeader, concl[0])
	require.Len(t, concl, 2)
	assert.Equal(t, "0.5025", concl[1][5])
	assert.Equal(t, res.Conclusions[0].Pro, UnpackRefs(concl[1][6]))
	assert.Equal(t, "User", res.Arguments[0].SpeakerRole)
}

func TestJobRun_AppliesTuningFile(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.csv")
	writeEvents(t, eventsPath, sampleEvents())

	job := Job{EventsPath: eventsPath, OutDir: dir, Now: func() time.Time { return fixedNow }}
	res, _, err := job.Run()
	require.NoError(t, err)
	conRef := res.Conclusions[0].Con[0].ID

	tuning := "arg_ref_id,manual_strength,multiplier,notes\n" + conRef + ",0.2,,manual\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ArgTuningFile), []byte(tuning), 0644))

	res, _, err = job.Run()
	require.NoError(t, err)
	assert.Equal(t, 0.2, res.Conclusions[0].ConTotalTuned)
	assert.Equal(t, 0.0375, res.Rollups[0].ConTotal)
}

func TestJobRun_MissingEvents(t *testing.T) {
	_, _, err := Job{EventsPath: filepath.Join(t.TempDir(), "nope.csv"), OutDir: t.TempDir()}.Run()
	assert.Error(t, err)
}

func TestWriteHTML_Structure(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConclusionsHTML)
	err := WriteHTML(path, []Conclusion{
		{
			TopicID: "TOP-a", TopicName: "Argent <&>", Visibility: "hidden", NetScore: -0.25,
			Pro:        []RankedRef{{ID: "ARREF-1", Name: "p1", Strength: 0.5}},
			Con:        []RankedRef{{ID: "ARREF-2", Name: "c1", Strength: 0.75}, {ID: "ARREF-3", Name: "c2", Strength: 0.1}},
			NoteHidden: "dette",
		},
		{TopicID: "TOP-b", TopicName: "Vacances", Visibility: "open", NetScore: 0},
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := html.Parse(f)
	require.NoError(t, err)

	var topics []string
	var items []string
	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && strings.HasPrefix(a.Val, "topic-") {
					topics = append(topics, a.Val)
				}
			}
			if n.Data == "li" {
				items = append(items, nodeText(n))
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	assert.Equal(t, []string{"topic-TOP-a", "topic-TOP-b"}, topics)
	require.Len(t, items, 3)
	assert.Contains(t, items[1], "c1")
	assert.Contains(t, items[1], "0.75")
	assert.Contains(t, text.String(), "Argent <&>")
	assert.Contains(t, text.String(), "net: -0.25")
	assert.Contains(t, text.String(), "net: +0.0")
	assert.Contains(t, text.String(), "Hypothèse de sujet caché:")
	assert.Equal(t, 1, strings.Count(text.String(), "dette"))
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func TestPackRefsRoundTrip(t *testing.T) {
	refs := []RankedRef{{ID: "A", Name: "un", Strength: 0.5}, {ID: "B", Name: "deux", Strength: 1}}
	packed := PackRefs(refs)
	assert.Equal(t, "A::un::0.5 || B::deux::1.0", packed)
	assert.Equal(t, refs, UnpackRefs(packed))
	assert.Empty(t, UnpackRefs("broken || also::broken"))
}

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.csv")
	require.NoError(t, os.WriteFile(path, []byte("canonical_text,fact_ref_id,locked\n  A   fact ,FREF-X,1\nOther,,no\n,,1\n"), 0644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Len(t, seed, 2)
	assert.Equal(t, SeedFact{ID: "FREF-X", Locked: true}, seed["A fact"])
	assert.False(t, seed["Other"].Locked)
	assert.Len(t, seed["Other"].ID, len("FREF-")+8)

	empty, err := LoadSeed(filepath.Join(dir, "missing.csv"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWatcher_RerunsOnInputChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.csv")
	outDir := filepath.Join(dir, "out")
	writeEvents(t, eventsPath, sampleEvents())

	var mu sync.Mutex
	var nets []float64
	job := Job{EventsPath: eventsPath, OutDir: outDir, Now: func() time.Time { return fixedNow }}
	w, err := NewWatcher(job, func(res *Result, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		nets = append(nets, res.Conclusions[0].NetScore)
		mu.Unlock()
	})
	require.NoError(t, err)
	w.debounceDur = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Runs() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// Outputs land in OutDir and must not retrigger a run.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, w.Runs())

	evs := sampleEvents()
	evs[1].Relevance = "1"
	staged := filepath.Join(t.TempDir(), "events.csv")
	writeEvents(t, staged, evs)
	require.NoError(t, os.Rename(staged, eventsPath))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(nets) >= 2 && nets[len(nets)-1] == 0.465
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(nets), 2)
	assert.Equal(t, 0.5025, nets[0])
	assert.Equal(t, 0.465, nets[len(nets)-1])
}
