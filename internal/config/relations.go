package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrRelationNotFound is returned when a relation id is unknown.
	ErrRelationNotFound = errors.New("relation not found")
	// ErrAmbiguousRelation is returned when several relations exist and none was chosen.
	ErrAmbiguousRelation = errors.New("multiple relations configured, pass --relation to select one")
	// ErrNoRelations is returned when the config defines no relation.
	ErrNoRelations = errors.New("no relations defined in config")
)

// RelationConfig describes one correspondent.
type RelationConfig struct {
	ID             string              `yaml:"id"`
	Name           string              `yaml:"name"`
	Emails         []string            `yaml:"emails"`
	ContextHistory string              `yaml:"context_history"`
	ThemeKeywords  map[string][]string `yaml:"theme_keywords"`
	EnjeuxKeywords map[string]string   `yaml:"enjeux_keywords"` // term -> stake label
	EnjeuxIndex    string              `yaml:"enjeux_index"`
	AnalysisDir    string              `yaml:"analysis_dir"`
	EmailArchives  ArchivesConfig      `yaml:"email_archives"`
	Reports        ReportsConfig       `yaml:"reports"`
	WhatsApp       WhatsAppConfig      `yaml:"whatsapp"`
}

// ArchivesConfig locates the emails_YYYY.txt files.
type ArchivesConfig struct {
	Dir string `yaml:"dir"`
}

// ReportsConfig locates the analysis outputs.
type ReportsConfig struct {
	HTMLDir   string `yaml:"html_dir"`
	CSVLight  string `yaml:"csv_light"`
	CSVEvents string `yaml:"csv_events"`
	OutDir    string `yaml:"outdir"`
	FactsSeed string `yaml:"facts_seed"`
}

// WhatsAppConfig configures the chat export conversion.
type WhatsAppConfig struct {
	ChatExport     string    `yaml:"chat_export"`
	EmailOutputDir string    `yaml:"email_output_dir"`
	Subject        string    `yaml:"subject"`
	RecipientLabel string    `yaml:"recipient_label"`
	YearRange      YearRange `yaml:"year_range"`
}

// YearRange bounds the years kept by a converter. Zero means unbounded.
type YearRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Contains reports whether year falls in the range.
func (r YearRange) Contains(year int) bool {
	if r.From != 0 && year < r.From {
		return false
	}
	if r.To != 0 && year > r.To {
		return false
	}
	return true
}

// ResolveRelation finds a relation by id. With an empty id the sole
// relation is the default.
func (c *Config) ResolveRelation(id string) (*RelationConfig, error) {
	if len(c.Relations) == 0 {
		return nil, ErrNoRelations
	}
	if id != "" {
		ids := make([]string, 0, len(c.Relations))
		for i := range c.Relations {
			if c.Relations[i].ID == id {
				return &c.Relations[i], nil
			}
			ids = append(ids, relationIDOrPlaceholder(c.Relations[i].ID))
		}
		return nil, fmt.Errorf("%w: %q (available ids: %s)", ErrRelationNotFound, id, strings.Join(ids, ", "))
	}
	if len(c.Relations) == 1 {
		return &c.Relations[0], nil
	}
	return nil, ErrAmbiguousRelation
}

func relationIDOrPlaceholder(id string) string {
	if id == "" {
		return "?"
	}
	return id
}

// Label returns the relation display name.
func (r *RelationConfig) Label() string {
	if r.Name != "" {
		return r.Name
	}
	if r.ID != "" {
		return r.ID
	}
	return "Relation"
}

// Addresses returns the relation's addresses, lowercased.
func (r *RelationConfig) Addresses() []string {
	return lowerAll(r.Emails)
}

// RelationPaths holds every resolved location of a relation.
type RelationPaths struct {
	Archives    string
	HTMLDir     string
	CSVLight    string
	CSVEvents   string
	OutDir      string
	FactsSeed   string
	AnalysisDir string
	EnjeuxIndex string
	WhatsApp    string
	WhatsAppOut string
}

// Paths resolves the relation's locations, filling the defaults derived
// from the archive directory.
func (c *Config) Paths(r *RelationConfig) (RelationPaths, error) {
	var p RelationPaths
	if r.EmailArchives.Dir == "" {
		return p, fmt.Errorf("relation %s: email_archives.dir is required", r.ID)
	}
	archives, err := c.ExpandPath(r.EmailArchives.Dir)
	if err != nil {
		return p, err
	}
	p.Archives = archives

	resolve := func(value, fallback string) string {
		if value == "" {
			return fallback
		}
		out, err := c.ExpandPath(value)
		if err != nil {
			return fallback
		}
		return out
	}

	p.HTMLDir = resolve(r.Reports.HTMLDir, filepath.Join(archives, "sophismes"))
	p.CSVLight = resolve(r.Reports.CSVLight, filepath.Join(archives, "sophismes_topics_master_light.csv"))
	p.CSVEvents = resolve(r.Reports.CSVEvents, filepath.Join(archives, "sophismes_topics_master.csv"))
	p.AnalysisDir = resolve(r.AnalysisDir, filepath.Join(archives, "analysis"))
	p.OutDir = resolve(r.Reports.OutDir, filepath.Join(p.AnalysisDir, "consolidation"))
	p.FactsSeed = resolve(r.Reports.FactsSeed, filepath.Join(p.OutDir, "facts_seed.csv"))
	p.EnjeuxIndex = resolve(r.EnjeuxIndex, filepath.Join(archives, "enjeux_index.csv"))
	p.WhatsApp = resolve(r.WhatsApp.ChatExport, "")
	p.WhatsAppOut = resolve(r.WhatsApp.EmailOutputDir, archives)
	return p, nil
}
