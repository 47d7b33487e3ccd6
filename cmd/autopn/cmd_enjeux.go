package main

import (
	"autopn/internal/archive"
	"autopn/internal/enjeux"
	"autopn/internal/topicminer"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	enjeuxNoAppend bool

	topicsWorkers int
	topicsOut     string
)

// enjeuxCmd annotates the archives with the recurring stakes
var enjeuxCmd = &cobra.Command{
	Use:   "enjeux [years]",
	Short: "Annotate the yearly archives with the stakes of the enjeux index",
	Long: `Matches every message against the enjeux index and the relation's
keywords, writes one JSON record per annotated message and a marked copy of
each year file, then reviews the pooled labels: fuzzy matches are mapped
onto existing entries and new labels are appended to the index (or kept as
candidates with --no-append).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnjeux,
}

// topicsCmd mines the recurring words of the archives
var topicsCmd = &cobra.Command{
	Use:   "topics [years]",
	Short: "Mine recurring topics and map them onto the enjeux index",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTopics,
}

func init() {
	enjeuxCmd.Flags().BoolVar(&enjeuxNoAppend, "no-append", false, "Keep new labels as review candidates")

	topicsCmd.Flags().IntVar(&topicsWorkers, "workers", 4, "Year files counted concurrently")
	topicsCmd.Flags().StringVar(&topicsOut, "out", "", "Output directory (default: <analysis_dir>/topics)")
}

func yearsArg(args []string, archives string) ([]int, error) {
	sel := ""
	if len(args) > 0 {
		sel = args[0]
	}
	return archive.ParseYears(sel, archives, false)
}

func runEnjeux(cmd *cobra.Command, args []string) error {
	start := time.Now()
	rel, paths, err := relation()
	if err != nil {
		return err
	}
	years, err := yearsArg(args, paths.Archives)
	if err != nil {
		return err
	}
	idx, err := enjeux.LoadIndex(paths.EnjeuxIndex)
	if err != nil {
		return finish(cmd, start, err)
	}

	sum, err := enjeux.Run(paths.Archives, years, idx, enjeux.Options{
		Keywords:    rel.EnjeuxKeywords,
		AnalysisDir: paths.AnalysisDir,
		NoAppend:    enjeuxNoAppend,
	})
	if err != nil {
		return finish(cmd, start, err)
	}
	for _, y := range sum.Years {
		logger.Info("year annotated",
			zap.Int("year", y.Year),
			zap.Int("messages", y.Messages),
			zap.Int("annotated", y.Annotated),
			zap.Int("proposals", y.Proposals),
			zap.String("marked", y.MarkedPath),
		)
	}
	mapped, appended, candidates := sum.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "enjeux: %d mapped, %d appended, %d candidates (index %s, %d entries)\n",
		mapped, appended, candidates, idx.Path(), idx.Len())
	return finish(cmd, start, nil)
}

func runTopics(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()

	_, paths, err := relation()
	if err != nil {
		return err
	}
	years, err := yearsArg(args, paths.Archives)
	if err != nil {
		return err
	}
	idx, err := enjeux.LoadIndex(paths.EnjeuxIndex)
	if err != nil {
		return finish(cmd, start, err)
	}
	out := firstNonEmpty(topicsOut, filepath.Join(paths.AnalysisDir, "topics"))

	res, err := topicminer.Run(ctx, paths.Archives, years, idx, out, topicsWorkers)
	if err != nil {
		return finish(cmd, start, err)
	}
	logger.Info("topics mined",
		zap.Int("messages", res.Messages),
		zap.Int("tokens", res.Tokens),
		zap.Int("mapped", res.Mapped),
		zap.Strings("files", res.Files),
	)
	return finish(cmd, start, nil)
}
