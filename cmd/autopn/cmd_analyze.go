package main

import (
	"autopn/internal/analyze"
	"autopn/internal/archive"
	"autopn/internal/config"
	"autopn/internal/events"
	"autopn/internal/taxonomy"
	"autopn/internal/ui"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	analyzeYears   string
	analyzeMax     int
	analyzeSleep   time.Duration
	normalized     bool
	clearLight     bool
	clearEvents    bool
	llmModel       string
	llmTemperature float64
	taxonomyFile   string
	taxonomyMode   string
	analyzeWorkers int

	yearlyChunk  int
	yearlyRender bool
)

// analyzeCmd runs the per-message sophism analysis
var analyzeCmd = &cobra.Command{
	Use:   "analyze [years]",
	Short: "Analyze each message of the yearly archives for sophisms and real matters",
	Long: `Sends every message of emails_<year>.txt to the model with its thread
context and writes:
  - an HTML report per year into the report directory
  - one row per finding into the light CSV
  - normalized events into the events CSV

Years are "all" (default), "2019-2021", "2019,2021" or a single year.
Answers are cached so an interrupted run resumes without new calls.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

// yearlyCmd writes one Markdown report per year
var yearlyCmd = &cobra.Command{
	Use:   "yearly [years]",
	Short: "Write a Markdown sophism report per year from chunked archives",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runYearly,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeMax, "max", 0, "Analyze at most N messages per year (0: all)")
	analyzeCmd.Flags().DurationVar(&analyzeSleep, "sleep", 0, "Pause after each model call (default: llm.sleep_between_requests)")
	analyzeCmd.Flags().BoolVar(&clearLight, "clear-light", false, "Truncate the light CSV before writing")
	analyzeCmd.Flags().BoolVar(&clearEvents, "clear-events", false, "Truncate the events CSV before writing")
	analyzeCmd.Flags().StringVar(&taxonomyFile, "taxonomy", "", "Sophism nomenclature YAML (default: taxonomy.file)")
	analyzeCmd.Flags().StringVar(&taxonomyMode, "taxonomy-mode", "", "off, hint, normalize or strict (default: taxonomy.mode)")
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 1, "Messages analyzed concurrently")

	yearlyCmd.Flags().IntVar(&yearlyChunk, "chunk", 6000, "Characters per chunk sent to the model")
	yearlyCmd.Flags().BoolVar(&yearlyRender, "render", false, "Print each report rendered for the terminal")

	for _, c := range []*cobra.Command{analyzeCmd, yearlyCmd} {
		c.Flags().StringVar(&analyzeYears, "years", "", "Years to process (overrides the argument)")
		c.Flags().BoolVar(&normalized, "normalized", false, "Read emails_<year>_normalized.txt")
		c.Flags().StringVar(&llmModel, "model", "", "Model name (default: llm.model)")
		c.Flags().Float64Var(&llmTemperature, "temperature", 0, "Sampling temperature (default: llm.temperature)")
	}
}

// selectedYears resolves --years or the argument against the archives.
func selectedYears(args []string, archives string) ([]int, error) {
	sel := analyzeYears
	if sel == "" && len(args) > 0 {
		sel = args[0]
	}
	return archive.ParseYears(sel, archives, normalized)
}

func temperatureOverride(cmd *cobra.Command) *float64 {
	if cmd.Flags().Changed("temperature") {
		t := llmTemperature
		return &t
	}
	return nil
}

// newAnalyzer wires the model client, the cache and the nomenclature.
func newAnalyzer(cmd *cobra.Command, rel *config.RelationConfig, cache analyze.Cache) (*analyze.Analyzer, error) {
	ctx := cmd.Context()
	client, err := newLLMClient(ctx, llmModel, temperatureOverride(cmd))
	if err != nil {
		return nil, err
	}

	tax, err := loadTaxonomy()
	if err != nil {
		return nil, err
	}

	sleep := cfg.GetSleepBetweenRequests()
	if analyzeSleep > 0 {
		sleep = analyzeSleep
	}
	return analyze.New(client, cache, analyze.Options{
		Model:           cfg.LLM.WithOverrides(llmModel, nil).Model,
		RelationID:      rel.ID,
		OwnerName:       cfg.OwnerLabel(),
		RelationName:    rel.Label(),
		RelationContext: rel.ContextHistory,
		OwnerEmails:     cfg.OwnerEmails(),
		RelationEmails:  rel.Addresses(),
		ThemeKeywords:   rel.ThemeKeywords,
		Taxonomy:        tax,
		Sleep:           sleep,
		Workers:         analyzeWorkers,
		MaxMessages:     analyzeMax,
	}), nil
}

func loadTaxonomy() (*taxonomy.Taxonomy, error) {
	mode, err := taxonomy.ParseMode(firstNonEmpty(taxonomyMode, cfg.Taxonomy.Mode))
	if err != nil {
		return nil, err
	}
	if mode == taxonomy.ModeOff {
		return taxonomy.New(nil, mode), nil
	}
	file := firstNonEmpty(taxonomyFile, cfg.Taxonomy.File)
	if file == "" {
		return taxonomy.New(nil, mode), nil
	}
	path, err := cfg.ExpandPath(file)
	if err != nil {
		return nil, err
	}
	return taxonomy.Load(path, mode)
}

func runAnalyze(cmd *cobra.Command, args []string) (err error) {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()
	cmd.SetContext(ctx)

	rel, paths, err := relation()
	if err != nil {
		return err
	}
	years, err := selectedYears(args, paths.Archives)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	done := trackRun(ctx, st, cmd.CommandPath())
	defer func() { done(err) }()

	an, err := newAnalyzer(cmd, rel, st)
	if err != nil {
		return finish(cmd, start, err)
	}
	sink, err := events.NewSink(paths.CSVEvents, clearEvents)
	if err != nil {
		return finish(cmd, start, err)
	}
	light, err := analyze.OpenLight(paths.CSVLight, clearLight)
	if err != nil {
		return finish(cmd, start, err)
	}

	logger.Info("analyzing",
		zap.String("relation", rel.ID),
		zap.Ints("years", years),
		zap.Int("workers", analyzeWorkers),
	)
	for _, y := range years {
		in := archive.YearFile(paths.Archives, y, normalized)
		if _, statErr := os.Stat(in); statErr != nil {
			logger.Warn("archive missing, year skipped", zap.Int("year", y), zap.String("path", in))
			continue
		}
		res, err := an.ProcessYear(ctx, y, in, paths.HTMLDir, sink, light)
		if err != nil {
			return finish(cmd, start, fmt.Errorf("failed to analyze %d: %w", y, err))
		}
		logger.Info("year analyzed",
			zap.Int("year", y),
			zap.Int("events", res.Events),
			zap.Int("light_rows", res.LightRows),
			zap.Int("failed", res.Failed),
			zap.String("html", res.HTMLPath),
		)
	}
	logger.Info("analysis done",
		zap.String("events_csv", sink.Path()),
		zap.String("light_csv", light.Path()),
	)
	return finish(cmd, start, nil)
}

func runYearly(cmd *cobra.Command, args []string) (err error) {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()
	cmd.SetContext(ctx)

	rel, paths, err := relation()
	if err != nil {
		return err
	}
	years, err := selectedYears(args, paths.Archives)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	done := trackRun(ctx, st, cmd.CommandPath())
	defer func() { done(err) }()

	an, err := newAnalyzer(cmd, rel, st)
	if err != nil {
		return finish(cmd, start, err)
	}

	theme := ui.DetectTheme()
	for _, y := range years {
		in := archive.YearFile(paths.Archives, y, normalized)
		if _, statErr := os.Stat(in); statErr != nil {
			logger.Warn("archive missing, year skipped", zap.Int("year", y), zap.String("path", in))
			continue
		}
		path, err := an.YearlyReport(ctx, y, in, paths.AnalysisDir, yearlyChunk)
		if err != nil {
			return finish(cmd, start, fmt.Errorf("failed to write yearly report %d: %w", y, err))
		}
		logger.Info("yearly report written", zap.Int("year", y), zap.String("path", path))
		if yearlyRender {
			data, err := os.ReadFile(path)
			if err != nil {
				return finish(cmd, start, fmt.Errorf("failed to read %s: %w", path, err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMarkdown(string(data), theme))
		}
	}
	return finish(cmd, start, nil)
}
