package analyze

import (
	"autopn/internal/archive"
	"autopn/internal/events"
	"fmt"
	"strings"
)

// maxQuoteEvents caps the events emitted per sophism.
const maxQuoteEvents = 3

// EmailID identifies message i (0-based) of year in the events CSV.
func EmailID(year, i int) string {
	return fmt.Sprintf("%d:%d", year, i+1)
}

// Events turns the analysis of message i into events CSV rows.
func (a *Analyzer) Events(year, i int, msg archive.Message, an Analysis) []events.Event {
	dateISO := strings.TrimSpace(msg.Date)
	if dateISO == "" {
		dateISO = a.opts.Now().UTC().Format("2006-01-02T15:04:05Z")
	}
	header := a.speakers.Detect(msg.From)
	base := events.Event{
		EmailID:      EmailID(year, i),
		DateISO:      dateISO,
		SpeakerEmail: msg.From,
		Theme:        events.GuessTheme(msg.Body, a.opts.ThemeKeywords),
	}
	speaker := func(s string) string {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return header
	}

	var out []events.Event
	for _, s := range an.Sophisms {
		name := strings.TrimSpace(s.Name)
		topic := name
		if topic == "" {
			topic = "—"
		}
		n := 0
		for _, q := range s.Quotes {
			if strings.TrimSpace(q) == "" {
				continue
			}
			if n == maxQuoteEvents {
				break
			}
			n++
			e := base
			e.SpeakerName = header
			e.TopicName = topic
			e.SophismName = name
			e.SophismCategory = strings.TrimSpace(s.Category)
			e.EmailExcerpt = ExtractAround(q, msg.Body)
			setScores(&e, 0.25, 0.25, 0.25, "positive")
			out = append(out, e)
		}
	}

	for _, rm := range an.RealMatters {
		vis := strings.ToLower(strings.TrimSpace(rm.OpenOrHidden))
		if vis == "" {
			vis = "open"
		}
		for _, ph := range rm.Phrases {
			e := base
			e.SpeakerName = speaker(rm.Speaker)
			e.TopicName = ph
			e.TopicVisibility = vis
			if vis == "hidden" {
				e.HiddenTopicHint = strings.TrimSpace(rm.WhyHidden)
				e.HiddenTopicConfidence = events.Score(0.60)
			}
			e.EmailExcerpt = ExtractAround(ph, msg.Body)
			setScores(&e, 0.50, 0.50, 0.50, "positive")
			out = append(out, e)
		}
	}

	for _, fe := range an.FallaciousExcuses {
		label := strings.TrimSpace(fe.Label)
		for _, ph := range fe.Phrases {
			e := base
			e.SpeakerName = speaker(fe.Speaker)
			e.TopicName = firstNonBlank(label, ph)
			e.TopicSide = "con"
			e.ArgumentRefName = firstNonBlank(label, ph)
			e.ArgumentText = ph
			e.SophismName = label
			e.SophismCategory = fe.Label
			e.EmailExcerpt = ExtractAround(ph, msg.Body)
			setScores(&e, 0.45, 0.40, 0.40, "negative")
			out = append(out, e)
		}
	}

	for _, vm := range an.ValidButMisused {
		desc := strings.TrimSpace(vm.Description)
		for _, ph := range vm.Phrases {
			e := base
			e.SpeakerName = speaker(vm.Speaker)
			e.TopicName = firstNonBlank(desc, ph)
			e.TopicSide = "pro"
			e.ArgumentRefName = firstNonBlank(desc, ph)
			e.ArgumentText = ph
			e.EmailExcerpt = ExtractAround(ph, msg.Body)
			setScores(&e, 0.40, 0.55, 0.35, "positive")
			out = append(out, e)
		}
	}
	return out
}

func setScores(e *events.Event, relevance, credibility, impact float64, direction string) {
	e.Relevance = events.Score(relevance)
	e.ReasoningCredibility = events.Score(credibility)
	e.ImpactScore = events.Score(impact)
	e.ImpactDirection = direction
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// LightRows lists the findings of message i as light CSV rows, numbered
// from 1 within the message.
func (a *Analyzer) LightRows(year, i int, msg archive.Message, an Analysis) []LightRow {
	header := a.speakers.Detect(msg.From)
	var rows []LightRow
	add := func(field, speaker string, texts []string) {
		speaker = firstNonBlank(strings.TrimSpace(speaker), header)
		for _, t := range texts {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			rows = append(rows, LightRow{
				IDTopic:     TopicID(year, i+1, len(rows)+1),
				Year:        year,
				EmailID:     EmailID(year, i),
				EmailSender: msg.From,
				Speaker:     speaker,
				Field:       field,
				Text:        t,
			})
		}
	}
	for _, s := range an.Sophisms {
		add("sophism", "", s.Quotes)
	}
	for _, rm := range an.RealMatters {
		add("real_matter", rm.Speaker, rm.Phrases)
	}
	for _, fe := range an.FallaciousExcuses {
		add("fallacious_excuse", fe.Speaker, fe.Phrases)
	}
	for _, vm := range an.ValidButMisused {
		add("valid_but_misused", vm.Speaker, vm.Phrases)
	}
	return rows
}
