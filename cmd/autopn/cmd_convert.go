package main

import (
	"autopn/internal/archive"
	"autopn/internal/whatsapp"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxYear stands for an open upper bound.
const maxYear = 9999

var (
	chatPath   string
	chatOutDir string

	mergeFrom int
	mergeTo   int
)

// whatsappCmd converts a WhatsApp export into archive blocks
var whatsappCmd = &cobra.Command{
	Use:   "whatsapp",
	Short: "Convert a WhatsApp chat export into whatsapp_<year>.txt archives",
	RunE:  runWhatsApp,
}

// mergeCmd merges block files into the yearly e-mail archives
var mergeCmd = &cobra.Command{
	Use:   "merge <source-dir>",
	Short: "Merge the block files of a directory into emails_<year>.txt",
	Long: `Reads every block file of source-dir (WhatsApp conversions, other
exports), orders the messages by date and appends them to the relation's
yearly archives, skipping blocks already present.`,
	Args: cobra.ExactArgs(1),
	RunE: runMerge,
}

func init() {
	whatsappCmd.Flags().StringVar(&chatPath, "chat", "", "Chat export file (default: whatsapp.chat_export)")
	whatsappCmd.Flags().StringVar(&chatOutDir, "out", "", "Output directory (default: whatsapp.email_output_dir)")

	mergeCmd.Flags().IntVar(&mergeFrom, "from", 0, "First year kept (0: unbounded)")
	mergeCmd.Flags().IntVar(&mergeTo, "to", 0, "Last year kept (0: unbounded)")
}

func runWhatsApp(cmd *cobra.Command, args []string) error {
	start := time.Now()
	rel, paths, err := relation()
	if err != nil {
		return err
	}
	chat := firstNonEmpty(chatPath, paths.WhatsApp)
	if chat == "" {
		return fmt.Errorf("relation %s: no chat export (set whatsapp.chat_export or --chat)", rel.ID)
	}
	out := firstNonEmpty(chatOutDir, paths.WhatsAppOut)

	res, err := whatsapp.Convert(chat, out, whatsapp.Options{
		Subject:   rel.WhatsApp.Subject,
		Recipient: firstNonEmpty(rel.WhatsApp.RecipientLabel, cfg.OwnerLabel()),
		Years:     rel.WhatsApp.YearRange,
	})
	if err != nil {
		return finish(cmd, start, err)
	}
	logger.Info("whatsapp converted",
		zap.String("chat", chat),
		zap.String("out", out),
		zap.Int("messages", res.Messages),
		zap.Int("written", res.Written),
		zap.Int("duplicates", res.Duplicates),
		zap.Ints("years", res.Years),
	)
	return finish(cmd, start, nil)
}

func runMerge(cmd *cobra.Command, args []string) error {
	start := time.Now()
	_, paths, err := relation()
	if err != nil {
		return err
	}
	to := mergeTo
	if to == 0 {
		to = maxYear
	}
	res, err := archive.Merge(args[0], paths.Archives, mergeFrom, to)
	if err != nil {
		return finish(cmd, start, err)
	}
	logger.Info("merge done",
		zap.String("source", args[0]),
		zap.String("archives", paths.Archives),
		zap.Int("read", res.Read),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
	)
	return finish(cmd, start, nil)
}
