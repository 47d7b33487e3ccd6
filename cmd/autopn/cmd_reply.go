package main

import (
	"autopn/internal/archive"
	"autopn/internal/reply"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	replyModel string
	replyWords int
)

// replyCmd drafts an answer to the relation's last message
var replyCmd = &cobra.Command{
	Use:   "reply",
	Short: "Draft a reply to the relation's most recent e-mail",
	Long: `Builds a context from the archive files listed in reply.context_files
(every emails_<year>.txt when empty) up to reply.context_words words, saves
it to reply.context_out, fetches the newest message sent by the relation
and asks the model for the answer. The draft is printed, never sent.`,
	RunE: runReply,
}

func init() {
	replyCmd.Flags().StringVar(&replyModel, "model", "", "Model name (default: llm.model)")
	replyCmd.Flags().IntVar(&replyWords, "words", 0, "Context budget in words (default: reply.context_words)")
}

// replyFiles lists the context files, relative to the archive directory.
func replyFiles(archives string) ([]string, error) {
	if len(cfg.Reply.ContextFiles) > 0 {
		return cfg.Reply.ContextFiles, nil
	}
	years, err := archive.DiscoverYears(archives, false)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(years))
	for _, y := range years {
		files = append(files, filepath.Base(archive.YearFile(archives, y, false)))
	}
	return files, nil
}

func runReply(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()

	rel, paths, err := relation()
	if err != nil {
		return err
	}
	person := firstNonEmpty(cfg.Reply.PersonEmail)
	if person == "" && len(rel.Addresses()) > 0 {
		person = rel.Addresses()[0]
	}
	files, err := replyFiles(paths.Archives)
	if err != nil {
		return finish(cmd, start, err)
	}
	out := cfg.Reply.ContextOut
	if out != "" && !filepath.IsAbs(out) {
		out = filepath.Join(paths.Archives, out)
	}

	client, err := newLLMClient(ctx, replyModel, nil)
	if err != nil {
		return finish(cmd, start, err)
	}
	mb, err := openMailbox(ctx)
	if err != nil {
		return finish(cmd, start, err)
	}
	defer func() {
		if err := mb.Logout(); err != nil {
			logger.Debug("logout failed", zap.Error(err))
		}
	}()

	res, err := reply.Run(ctx, mb, client, reply.Options{
		Person:     person,
		Owner:      cfg.OwnerLabel(),
		Dir:        paths.Archives,
		Files:      files,
		Words:      firstPositive(replyWords, cfg.Reply.ContextWords, reply.DefaultWords),
		ContextOut: out,
	})
	if err != nil {
		return finish(cmd, start, err)
	}
	logger.Info("reply drafted",
		zap.String("to", person),
		zap.String("subject", res.Message.Subject),
		zap.Int("context_words", res.Context.Words),
		zap.String("context", out),
	)
	fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
	return finish(cmd, start, nil)
}
