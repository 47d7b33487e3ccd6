package main

import (
	"autopn/internal/ui"
	"autopn/internal/usage"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var runsLimit int

// runsCmd lists the recorded runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the latest recorded runs, the cache statistics and the token usage",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs shown")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	stats, err := st.GetStats()
	if err != nil {
		return err
	}

	t := ui.NewTable("Runs", "started", "command", "status", "duration", "error")
	for _, r := range runs {
		duration := ""
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		t.AddRow(r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Command, r.Status, duration, r.Error)
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, stats[k]))
	}
	t.Footer = strings.Join(parts, " | ")

	styles := ui.DefaultStyles()
	fmt.Fprintln(cmd.OutOrStdout(), t.View(styles))
	if tracker != nil {
		fmt.Fprintln(cmd.OutOrStdout(), usageTable(tracker.Stats()).View(styles))
	}
	return nil
}

// usageTable shows the tokens billed per model and per command.
func usageTable(stats usage.AggregatedStats) *ui.Table {
	t := ui.NewTable("Tokens", "model / command", "calls", "input", "output", "total")
	add := func(prefix string, m map[string]usage.TokenCounts) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c := m[k]
			t.AddRow(prefix+k, strconv.FormatInt(c.Calls, 10), strconv.FormatInt(c.Input, 10),
				strconv.FormatInt(c.Output, 10), strconv.FormatInt(c.Total, 10))
		}
	}
	add("", stats.ByModel)
	add("$ ", stats.ByCommand)
	t.Footer = fmt.Sprintf("%d calls, %d tokens", stats.Total.Calls, stats.Total.Total)
	return t
}
