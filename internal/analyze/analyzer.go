package analyze

import (
	"autopn/internal/archive"
	"autopn/internal/llm"
	"autopn/internal/logging"
	"autopn/internal/store"
	"autopn/internal/taxonomy"
	"context"
	"fmt"
	"time"
)

// Cache stores raw model responses keyed by a hash of the prompt.
type Cache interface {
	GetAnalysis(ctx context.Context, key string) (store.Analysis, bool, error)
	PutAnalysis(ctx context.Context, a store.Analysis) error
}

// Options configures an Analyzer.
type Options struct {
	Model           string
	RelationID      string
	OwnerName       string
	RelationName    string
	RelationContext string
	OwnerEmails     []string
	RelationEmails  []string
	ThemeKeywords   map[string][]string
	Taxonomy        *taxonomy.Taxonomy
	// Sleep is the pause after each billed model call.
	Sleep       time.Duration
	Workers     int
	MaxMessages int
	Now         func() time.Time
}

// Analyzer sends messages to the model and turns the answers into reports.
type Analyzer struct {
	client   llm.Client
	cache    Cache
	opts     Options
	speakers Speakers
}

// New creates an Analyzer. cache may be nil.
func New(client llm.Client, cache Cache, opts Options) *Analyzer {
	if opts.Model == "" {
		if m, ok := client.(llm.Modeler); ok {
			opts.Model = m.GetModel()
		}
	}
	if opts.OwnerName == "" {
		opts.OwnerName = "Owner"
	}
	if opts.RelationName == "" {
		opts.RelationName = "Relation"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		client: client,
		cache:  cache,
		opts:   opts,
		speakers: Speakers{
			OwnerName:      opts.OwnerName,
			RelationName:   opts.RelationName,
			OwnerEmails:    opts.OwnerEmails,
			RelationEmails: opts.RelationEmails,
		},
	}
}

// Speakers returns the speaker detector built from the options.
func (a *Analyzer) Speakers() Speakers { return a.speakers }

// AnalyzeMessage analyzes msgs[i] of year with its neighbours as context.
func (a *Analyzer) AnalyzeMessage(ctx context.Context, year int, msgs []archive.Message, i int) (Analysis, error) {
	raw, err := a.complete(ctx, year, i+1, SystemPrompt, a.UserPrompt(msgs, i))
	if err != nil {
		return Analysis{}, err
	}
	an := ParseAnalysis(raw)
	an.ApplyTaxonomy(a.opts.Taxonomy)
	return an, nil
}

// complete returns the cached response for the prompt, or asks the model
// and caches its answer.
func (a *Analyzer) complete(ctx context.Context, year, seq int, system, user string) (string, error) {
	key := store.AnalysisKey(a.opts.Model, system, user)
	if a.cache != nil {
		cached, ok, err := a.cache.GetAnalysis(ctx, key)
		if err != nil {
			logging.AnalyzeWarn("cache lookup failed for %d:%d: %v", year, seq, err)
		} else if ok {
			logging.AnalyzeDebug("cache hit for %d:%d", year, seq)
			return cached.Response, nil
		}
	}

	raw, err := a.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("failed to analyze message %d:%d: %w", year, seq, err)
	}

	if a.cache != nil {
		err := a.cache.PutAnalysis(ctx, store.Analysis{
			Key:      key,
			Relation: a.opts.RelationID,
			Year:     year,
			Seq:      seq,
			Model:    a.opts.Model,
			Response: raw,
		})
		if err != nil {
			logging.AnalyzeWarn("failed to cache analysis %d:%d: %v", year, seq, err)
		}
	}

	if err := sleepCtx(ctx, a.opts.Sleep); err != nil {
		return "", err
	}
	return raw, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
