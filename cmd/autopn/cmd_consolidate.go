package main

import (
	"autopn/internal/consolidate"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	consolidateWatch  bool
	consolidateEvents string
	consolidateOut    string
	consolidateSeed   string
)

// consolidateCmd turns the events CSV into scored facts and arguments
var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Consolidate analysis events into facts, arguments, topics and conclusions",
	Long: `Reads the events CSV written by analyze, merges duplicate facts with the
seed file, applies the tuning tables and writes the consolidated CSV tables
and the conclusions HTML page into the output directory.

With --watch the consolidation is re-run whenever the events, seed or
tuning files change, until interrupted.`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateWatch, "watch", false, "Re-run on input changes until interrupted")
	consolidateCmd.Flags().StringVar(&consolidateEvents, "events", "", "Events CSV (default: reports.csv_events)")
	consolidateCmd.Flags().StringVar(&consolidateOut, "out", "", "Output directory (default: reports.outdir)")
	consolidateCmd.Flags().StringVar(&consolidateSeed, "seed", "", "Facts seed CSV (default: reports.facts_seed)")
}

func logConsolidation(res *consolidate.Result, files []string) {
	logger.Info("consolidation written",
		zap.Int("facts", len(res.Facts)),
		zap.Int("arguments", len(res.Arguments)),
		zap.Int("topics", len(res.Topics)),
		zap.Int("conclusions", len(res.Conclusions)),
		zap.Strings("files", files),
	)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()

	rel, paths, err := relation()
	if err != nil {
		return err
	}
	job := consolidate.Job{
		EventsPath:     firstNonEmpty(consolidateEvents, paths.CSVEvents),
		OutDir:         firstNonEmpty(consolidateOut, paths.OutDir),
		SeedPath:       firstNonEmpty(consolidateSeed, paths.FactsSeed),
		OwnerEmails:    cfg.OwnerEmails(),
		RelationEmails: rel.Addresses(),
	}

	if !consolidateWatch {
		res, files, err := job.Run()
		if errors.Is(err, consolidate.ErrNoEvents) {
			logger.Warn("nothing to consolidate", zap.String("events", job.EventsPath))
			return finish(cmd, start, nil)
		}
		if err != nil {
			return finish(cmd, start, err)
		}
		logConsolidation(res, files)
		return finish(cmd, start, nil)
	}

	w, err := consolidate.NewWatcher(job, func(res *consolidate.Result, err error) {
		switch {
		case errors.Is(err, consolidate.ErrNoEvents):
			logger.Warn("nothing to consolidate", zap.String("events", job.EventsPath))
		case err != nil:
			logger.Error("consolidation failed", zap.Error(err))
		default:
			logger.Info("consolidation refreshed",
				zap.Int("facts", len(res.Facts)),
				zap.Int("arguments", len(res.Arguments)),
				zap.Int("conclusions", len(res.Conclusions)),
			)
		}
	})
	if err != nil {
		return finish(cmd, start, err)
	}
	logger.Info("watching inputs", zap.Strings("inputs", job.Inputs()))
	err = w.Run(ctx)
	logger.Info("watch stopped", zap.Int("runs", w.Runs()))
	return finish(cmd, start, err)
}
