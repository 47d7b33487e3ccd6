// Package consolidate deduplicates facts and arguments found in the events
// CSV, scores every argument occurrence and rolls the scores up per topic.
package consolidate

import (
	"autopn/internal/events"
	"autopn/internal/logging"
	"autopn/internal/textutil"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrNoEvents is returned when the events input has no row.
var ErrNoEvents = errors.New("no events to consolidate")

const (
	unspecifiedFact = "(fait non spécifié)"
	defaultArgName  = "(argument)"
	defaultTopic    = "(sujet)"
	defaultScore    = 0.50
	argNameMax      = 120
	argNameMinCut   = 60
	hiddenThreshold = 0.50
	hiddenRatio     = 0.40
)

// Options carries the inputs besides the events themselves.
type Options struct {
	OwnerEmails    []string
	RelationEmails []string
	Seed           Seed
	ArgTuning      TuningTable
	FactTuning     TuningTable
	Now            time.Time
}

// Fact is one row of facts_master.csv.
type Fact struct {
	ID               string
	CanonicalText    string
	StatusPct        int
	Locked           bool
	StatusSource     string
	StatusMethod     string
	Rationale        string
	ProOccurrences   int
	ConOccurrences   int
	FirstSeenEmailID string
	LastSeenEmailID  string
	UpdatedAt        string
}

// ArgLine is one argument occurrence citing one fact (arguments_master.csv).
type ArgLine struct {
	LineID                string
	InstanceID            string
	RefID                 string
	RefName               string
	ArgumentText          string
	EmailID               string
	CreatedAt             string
	SpeakerName           string
	SpeakerEmail          string
	SpeakerRole           string
	TopicID               string
	TopicSide             string
	ReasoningName         string
	SophismName           string
	SophismCategory       string
	FactRefID             string
	FactVeracityPct       int
	Relevance             float64
	ReasoningCredibility  float64
	ImpactScore           float64
	ImpactDirection       string
	HiddenTopicHint       string
	HiddenTopicConfidence float64
	Strength              float64
	NeedsReview           bool
	Notes                 string
}

// Topic is one row of topics_master.csv.
type Topic struct {
	ID          string
	Name        string
	Visibility  string
	HiddenNotes string
	CreatedAt   string
	UpdatedAt   string
}

// RefStat summarizes the strengths of one reference on one side of a topic.
type RefStat struct {
	TopicID   string
	TopicName string
	RefID     string
	RefName   string
	Side      string
	Count     int
	Sum       float64
	Avg       float64
	Max       float64
	Tuned     float64
}

// Rollup is one row of topics_rollup.csv.
type Rollup struct {
	TopicID              string
	TopicName            string
	Visibility           string
	ProTotal             float64
	ConTotal             float64
	ProTotalTuned        float64
	ConTotalTuned        float64
	ProUniqueArgs        int
	ConUniqueArgs        int
	OpenRatioHiddenHints float64
	TopHiddenNote        string
}

// RankedRef is an argument reference with its tuned strength.
type RankedRef struct {
	ID       string
	Name     string
	Strength float64
}

// Conclusion is the PRO vs CON summary of a topic.
type Conclusion struct {
	TopicID       string
	TopicName     string
	Visibility    string
	ProTotalTuned float64
	ConTotalTuned float64
	NetScore      float64
	Pro           []RankedRef // by tuned strength, descending
	Con           []RankedRef
	NoteHidden    string
}

// Result holds every consolidated table.
type Result struct {
	Facts       []Fact
	Arguments   []ArgLine
	Topics      []Topic
	ArgRefs     []RefStat
	FactRefs    []RefStat
	Rollups     []Rollup
	Conclusions []Conclusion
	GeneratedAt string
}

type factGroup struct {
	text      string
	locked    bool
	firstSeen string
	lastSeen  string
	pro, con  int
}

// orderedStrengths groups strengths by key, remembering first-seen order.
type orderedStrengths struct {
	keys []string
	vals map[string][]float64
}

func (o *orderedStrengths) add(key string, v float64) {
	if o.vals == nil {
		o.vals = make(map[string][]float64)
	}
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = append(o.vals[key], v)
}

// Build runs the consolidation over event rows.
func Build(rows []events.Row, opts Options) (*Result, error) {
	if len(rows) == 0 {
		return nil, ErrNoEvents
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowISO := now.UTC().Format("2006-01-02T15:04:05") + "Z"

	owners := toSet(opts.OwnerEmails)
	relations := toSet(opts.RelationEmails)
	seed := opts.Seed
	if seed == nil {
		seed = Seed{}
	}

	topicNames := make(map[string]string)
	facts := make(map[string]*factGroup)
	var factOrder []string
	factByText := make(map[string]string)
	var lines []ArgLine

	// 1) one line per argument occurrence and cited fact
	for _, ev := range rows {
		emailID := textutil.NormSpace(ev["email_id"])
		dateISO := textutil.NormSpace(ev["date_iso"])
		if dateISO == "" {
			dateISO = nowISO
		}
		speakerEmail := strings.ToLower(textutil.NormSpace(ev["speaker_email"]))
		topicName := textutil.NormSpace(ev["topic_name"])
		side := normalizeSide(ev["topic_side"])
		argumentText := textutil.NormSpace(ev["argument_text"])
		refName := ArgRefName(ev["argument_ref_name"], argumentText)
		hint := textutil.NormSpace(ev["hidden_topic_hint"])
		hintConf := parseFloat(ev["hidden_topic_confidence"], 0)

		topicID := TopicID(topicName)
		refID := textutil.HashID("ARREF", refName, 10)
		instanceID := textutil.HashID("ARGI", strings.Join([]string{emailID, refName, speakerEmail, topicID, side}, "|"), 10)

		if _, ok := topicNames[topicID]; !ok {
			topicNames[topicID] = topicName
		}

		factTexts := SplitFacts(ev["fact_texts"])
		if len(factTexts) == 0 {
			factTexts = []string{unspecifiedFact}
		}

		for _, ft := range factTexts {
			text := canonicalFact(ft)
			var factID string
			locked := false
			if sf, ok := seed[text]; ok {
				factID, locked = sf.ID, sf.Locked
			} else if id, ok := factByText[text]; ok {
				factID = id
			} else {
				factID = textutil.HashID("FREF", text, 10)
				factByText[text] = factID
			}

			fg, ok := facts[factID]
			if !ok {
				fg = &factGroup{text: text, locked: locked, firstSeen: emailID}
				facts[factID] = fg
				factOrder = append(factOrder, factID)
			}
			fg.lastSeen = emailID
			if side == "pro" {
				fg.pro++
			} else {
				fg.con++
			}

			lines = append(lines, ArgLine{
				InstanceID:            instanceID,
				RefID:                 refID,
				RefName:               refName,
				ArgumentText:          argumentText,
				EmailID:               emailID,
				CreatedAt:             dateISO,
				SpeakerName:           textutil.NormSpace(ev["speaker_name"]),
				SpeakerEmail:          speakerEmail,
				SpeakerRole:           SpeakerRole(speakerEmail, owners, relations),
				TopicID:               topicID,
				TopicSide:             side,
				ReasoningName:         textutil.NormSpace(ev["reasoning_name"]),
				SophismName:           textutil.NormSpace(ev["sophism_name"]),
				SophismCategory:       textutil.NormSpace(ev["sophism_category"]),
				FactRefID:             factID,
				Relevance:             SnapToBucket(parseFloat(ev["relevance"], defaultScore)),
				ReasoningCredibility:  SnapToBucket(parseFloat(ev["reasoning_credibility"], defaultScore)),
				ImpactScore:           SnapToBucket(parseFloat(ev["impact_score"], defaultScore)),
				ImpactDirection:       impactDirection(ev["impact_direction"]),
				HiddenTopicHint:       hint,
				HiddenTopicConfidence: hintConf,
			})
		}
	}

	res := &Result{GeneratedAt: nowISO}

	// 2) fact status
	status := make(map[string]Fact, len(facts))
	for _, id := range factOrder {
		fg := facts[id]
		f := Fact{
			ID:               id,
			CanonicalText:    fg.text,
			Locked:           fg.locked,
			ProOccurrences:   fg.pro,
			ConOccurrences:   fg.con,
			FirstSeenEmailID: fg.firstSeen,
			LastSeenEmailID:  fg.lastSeen,
			UpdatedAt:        nowISO,
		}
		switch {
		case fg.locked:
			f.StatusPct, f.StatusSource, f.StatusMethod = VeracityLocked, "Human", "base_context"
			f.Rationale = "Locked from base_context"
		case fg.con > 0:
			f.StatusPct, f.StatusSource, f.StatusMethod = VeracityContested, "AI", "contested"
			f.Rationale = "Au moins un contre-argument observé"
		default:
			f.StatusPct, f.StatusSource, f.StatusMethod = VeracityOpen, "AI", "close_match"
			f.Rationale = "Aucun contre-argument observé"
		}
		status[id] = f
		res.Facts = append(res.Facts, f)
	}

	// 3) veracity and strength per line
	for i := range lines {
		l := &lines[i]
		l.LineID = fmt.Sprintf("ARG-L-%07d", i+1)
		f := status[l.FactRefID]
		l.FactVeracityPct = f.StatusPct
		l.Strength = Strength(f.StatusPct, l.Relevance, l.ReasoningCredibility, l.ImpactScore)
		l.NeedsReview = f.StatusMethod == "contested"
	}
	res.Arguments = lines

	// 4) topic aggregation
	argRefs := make(map[string]map[string]*orderedStrengths)
	factRefs := make(map[string]map[string]*orderedStrengths)
	refNames := make(map[string]string)
	hiddenVals := make(map[string][]float64)
	hiddenNotes := make(map[string][]string)
	for _, l := range lines {
		refNames[l.RefID] = l.RefName
		sideGroup(argRefs, l.TopicID, l.TopicSide).add(l.RefID, l.Strength)
		if l.FactRefID != "" {
			sideGroup(factRefs, l.TopicID, l.TopicSide).add(l.FactRefID, l.Strength)
		}
		if l.HiddenTopicHint != "" {
			hiddenVals[l.TopicID] = append(hiddenVals[l.TopicID], l.HiddenTopicConfidence)
			hiddenNotes[l.TopicID] = append(hiddenNotes[l.TopicID], l.HiddenTopicHint)
		}
	}

	topicIDs := make([]string, 0, len(argRefs))
	for id := range argRefs {
		topicIDs = append(topicIDs, id)
	}
	sort.Strings(topicIDs)

	for _, topicID := range topicIDs {
		topicName, ok := topicNames[topicID]
		if !ok {
			topicName = defaultTopic
		}
		visibility, ratio, topNote := Visibility(hiddenVals[topicID], hiddenNotes[topicID])

		proBase, proTuned, proList := summarizeArgs(res, argRefs[topicID]["pro"], topicID, topicName, "pro", refNames, opts.ArgTuning)
		conBase, conTuned, conList := summarizeArgs(res, argRefs[topicID]["con"], topicID, topicName, "con", refNames, opts.ArgTuning)
		summarizeFacts(res, factRefs[topicID]["pro"], topicID, topicName, "pro", opts.FactTuning)
		summarizeFacts(res, factRefs[topicID]["con"], topicID, topicName, "con", opts.FactTuning)

		res.Topics = append(res.Topics, Topic{
			ID:          topicID,
			Name:        topicName,
			Visibility:  visibility,
			HiddenNotes: topNote,
			CreatedAt:   nowISO,
			UpdatedAt:   nowISO,
		})
		res.Rollups = append(res.Rollups, Rollup{
			TopicID:              topicID,
			TopicName:            topicName,
			Visibility:           visibility,
			ProTotal:             proBase,
			ConTotal:             conBase,
			ProTotalTuned:        proTuned,
			ConTotalTuned:        conTuned,
			ProUniqueArgs:        len(proList),
			ConUniqueArgs:        len(conList),
			OpenRatioHiddenHints: ratio,
			TopHiddenNote:        topNote,
		})
		res.Conclusions = append(res.Conclusions, Conclusion{
			TopicID:       topicID,
			TopicName:     topicName,
			Visibility:    visibility,
			ProTotalTuned: proTuned,
			ConTotalTuned: conTuned,
			NetScore:      Round(proTuned-conTuned, 4),
			Pro:           rankRefs(proList),
			Con:           rankRefs(conList),
			NoteHidden:    topNote,
		})
	}

	logging.Consolidate("consolidated %d events: %d facts, %d argument lines, %d topics",
		len(rows), len(res.Facts), len(res.Arguments), len(res.Topics))
	return res, nil
}

func sideGroup(m map[string]map[string]*orderedStrengths, topicID, side string) *orderedStrengths {
	bySide, ok := m[topicID]
	if !ok {
		bySide = make(map[string]*orderedStrengths)
		m[topicID] = bySide
	}
	g, ok := bySide[side]
	if !ok {
		g = &orderedStrengths{}
		bySide[side] = g
	}
	return g
}

func refStat(vals []float64) (count int, sum, peak, avg float64) {
	count = len(vals)
	for i, v := range vals {
		sum += v
		if i == 0 || v > peak {
			peak = v
		}
	}
	sum = Round(sum, 6)
	peak = Round(peak, 6)
	if count > 0 {
		avg = Round(sum/float64(count), 6)
	}
	return count, sum, peak, avg
}

// summarizeArgs appends the per-reference rows of one topic side and
// returns the base and tuned totals. The family strength of a reference is
// its maximum occurrence strength.
func summarizeArgs(res *Result, g *orderedStrengths, topicID, topicName, side string, names map[string]string, tuning TuningTable) (float64, float64, []RankedRef) {
	if g == nil {
		return 0, 0, nil
	}
	var baseTotal, tunedTotal float64
	list := make([]RankedRef, 0, len(g.keys))
	for _, ref := range g.keys {
		count, sum, peak, avg := refStat(g.vals[ref])
		tuned := tuning.Apply(peak, ref)
		baseTotal += peak
		tunedTotal += tuned

		name := names[ref]
		if name == "" {
			name = defaultArgName
		}
		res.ArgRefs = append(res.ArgRefs, RefStat{
			TopicID:   topicID,
			TopicName: topicName,
			RefID:     ref,
			RefName:   name,
			Side:      side,
			Count:     count,
			Sum:       Round(sum, 4),
			Avg:       Round(avg, 4),
			Max:       Round(peak, 4),
			Tuned:     Round(tuned, 4),
		})
		list = append(list, RankedRef{ID: ref, Name: name, Strength: tuned})
	}
	return Round(baseTotal, 4), Round(tunedTotal, 4), list
}

func summarizeFacts(res *Result, g *orderedStrengths, topicID, topicName, side string, tuning TuningTable) {
	if g == nil {
		return
	}
	for _, ref := range g.keys {
		count, sum, peak, avg := refStat(g.vals[ref])
		tuned := tuning.Apply(peak, ref)
		res.FactRefs = append(res.FactRefs, RefStat{
			TopicID:   topicID,
			TopicName: topicName,
			RefID:     ref,
			Side:      side,
			Count:     count,
			Sum:       Round(sum, 4),
			Avg:       Round(avg, 4),
			Max:       Round(peak, 4),
			Tuned:     Round(tuned, 4),
		})
	}
}

func rankRefs(list []RankedRef) []RankedRef {
	out := make([]RankedRef, len(list))
	for i, r := range list {
		out[i] = RankedRef{ID: r.ID, Name: r.Name, Strength: Round(r.Strength, 4)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

// Visibility classifies a topic from its hidden-topic hint confidences: it
// is "hidden" when at least 40% of them are >= 0.50. It also returns that
// ratio (3 decimals) and the most common hint.
func Visibility(confs []float64, notes []string) (string, float64, string) {
	if len(confs) == 0 {
		return "open", 0, ""
	}
	significant := 0
	for _, c := range confs {
		if c >= hiddenThreshold {
			significant++
		}
	}
	ratio := Round(float64(significant)/float64(len(confs)), 3)
	visibility := "open"
	if ratio >= hiddenRatio {
		visibility = "hidden"
	}
	return visibility, ratio, mostCommon(notes)
}

func mostCommon(items []string) string {
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, it := range items {
		if it == "" {
			continue
		}
		counts[it]++
	}
	// first-seen wins ties
	for _, it := range items {
		if n := counts[it]; n > bestN {
			best, bestN = it, n
		}
	}
	return best
}

// ArgRefName returns the explicit reference name, else the argument text
// cut at a word boundary within 120 characters.
func ArgRefName(explicit, text string) string {
	if n := textutil.NormSpace(explicit); n != "" {
		return n
	}
	t := []rune(textutil.NormSpace(text))
	if len(t) > argNameMax {
		cut := -1
		for i := argNameMax - 1; i >= 0; i-- {
			if t[i] == ' ' {
				cut = i
				break
			}
		}
		if cut < argNameMinCut {
			cut = argNameMax
		}
		t = append(append([]rune{}, t[:cut]...), '…')
	}
	if len(t) == 0 {
		return defaultArgName
	}
	return string(t)
}

// TopicID derives TOP-<slug[:32]>, or TOP-NA.
func TopicID(name string) string {
	slug := textutil.Slugish(textutil.NormSpace(name))
	if slug == "na" {
		return "TOP-NA"
	}
	r := []rune(slug)
	if len(r) > 32 {
		r = r[:32]
	}
	return "TOP-" + string(r)
}

var factSep = regexp.MustCompile(`[|;]`)

// SplitFacts splits a fact list on "||", "|" or ";".
func SplitFacts(raw string) []string {
	var out []string
	for _, p := range factSep.Split(strings.ReplaceAll(raw, "||", "|"), -1) {
		if p = textutil.NormSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SpeakerRole returns User, Relation or Other for an address.
func SpeakerRole(email string, owners, relations map[string]bool) string {
	e := strings.ToLower(email)
	switch {
	case owners[e]:
		return "User"
	case relations[e]:
		return "Relation"
	default:
		return "Other"
	}
}

func normalizeSide(s string) string {
	if strings.ToLower(textutil.NormSpace(s)) == "pro" {
		return "pro"
	}
	return "con"
}

func impactDirection(s string) string {
	if textutil.NormSpace(s) == "negative" {
		return "negative"
	}
	return "positive"
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return set
}
