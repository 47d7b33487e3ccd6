package main

import (
	"autopn/internal/mailfetch"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fetchReset    bool
	fetchFolder   string
	fetchBatch    int
	fetchYearFrom int
	fetchYearTo   int
)

// fetchCmd exports the relation's mail over IMAP
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Export the e-mails exchanged with the relation into yearly archives",
	Long: `Searches the mailbox for every message sent by or to the relation's
addresses and appends them to emails_<year>.txt in the archive directory.

Processed UIDs are remembered in _processed_ids.txt so a re-run only
downloads new mail. --reset removes the archives and both ledgers first.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchReset, "reset", false, "Remove emails_*.txt and the UID ledgers before exporting")
	fetchCmd.Flags().StringVar(&fetchFolder, "folder", "", "IMAP folder (default: config, then the All Mail folder, then INBOX)")
	fetchCmd.Flags().IntVar(&fetchBatch, "batch", 0, "UIDs per FETCH (default: imap.batch_size)")
	fetchCmd.Flags().IntVar(&fetchYearFrom, "from", 0, "First year to export (default: imap.year_from)")
	fetchCmd.Flags().IntVar(&fetchYearTo, "to", 0, "Last year to export (default: imap.year_to)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()

	rel, paths, err := relation()
	if err != nil {
		return err
	}
	if len(rel.Addresses()) == 0 {
		return fmt.Errorf("relation %s has no e-mail address", rel.ID)
	}

	if fetchReset {
		removed, err := mailfetch.Reset(paths.Archives)
		if err != nil {
			return finish(cmd, start, err)
		}
		logger.Info("archives reset", zap.Strings("removed", removed))
	}

	dial, err := imapDialer()
	if err != nil {
		return err
	}
	s := mailfetch.Settings{
		Me:        cfg.IMAP.Username,
		Folder:    firstNonEmpty(fetchFolder, cfg.IMAP.Folder),
		OutDir:    paths.Archives,
		BatchSize: firstPositive(fetchBatch, cfg.IMAP.BatchSize),
		YearFrom:  firstPositive(fetchYearFrom, cfg.IMAP.YearFrom),
		YearTo:    firstPositive(fetchYearTo, cfg.IMAP.YearTo, time.Now().Year()),
	}
	exp, err := mailfetch.NewExporter(dial, s)
	if err != nil {
		return err
	}

	logger.Info("exporting",
		zap.String("relation", rel.ID),
		zap.Strings("addresses", rel.Addresses()),
		zap.Int("from", s.YearFrom),
		zap.Int("to", s.YearTo),
	)
	res, err := exp.Run(ctx, rel.Addresses())
	logger.Info("export done",
		zap.Int("found", res.Found),
		zap.Int("skipped", res.Skipped),
		zap.Int("written", res.Written),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("out_of_range", res.OutOfRange),
		zap.Int("failed", res.Failed),
	)
	return finish(cmd, start, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
