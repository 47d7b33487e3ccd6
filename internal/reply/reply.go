// Package reply drafts an answer to the newest message of a correspondent
// from a bounded window of the archived exchange.
package reply

import (
	"autopn/internal/archive"
	"autopn/internal/llm"
	"autopn/internal/logging"
	"autopn/internal/mailfetch"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultWords is the context budget in words.
const DefaultWords = 6000

// Context is the archive window given to the model.
type Context struct {
	Text  string
	Words int
	Files []string
}

// BuildContext reads whole lines of files, resolved against dir, until
// the next line would exceed maxWords. Missing files are skipped.
func BuildContext(dir string, files []string, maxWords int) (Context, error) {
	if maxWords <= 0 {
		maxWords = DefaultWords
	}
	var c Context
	var b strings.Builder
	for _, name := range files {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		full, err := readLines(path, &b, &c.Words, maxWords)
		if errors.Is(err, os.ErrNotExist) {
			logging.ReplyWarn("context file not found: %s", path)
			continue
		}
		if err != nil {
			return c, err
		}
		c.Files = append(c.Files, path)
		if full {
			break
		}
	}
	c.Text = b.String()
	return c, nil
}

// readLines appends the lines of path to b while they fit. It reports
// whether the budget was reached.
func readLines(path string, b *strings.Builder, words *int, limit int) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			n := len(strings.Fields(line))
			if *words+n > limit {
				return true, nil
			}
			b.WriteString(line)
			*words += n
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return *words >= limit, nil
			}
			return false, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}

// Write saves the context text to path.
func (c Context) Write(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(c.Text), 0644); err != nil {
		return fmt.Errorf("failed to write context: %w", err)
	}
	logging.Audit().FileWrite(path, c.Words)
	return nil
}

// Incoming formats a received message for the prompt.
func Incoming(m archive.Message) string {
	return fmt.Sprintf("Message reçu le %s de %s :\nObjet : %s\n\n%s\n", m.Date, m.From, m.Subject, strings.TrimSpace(m.Body))
}

// SystemPrompt sets the tone of the drafted reply on behalf of owner.
func SystemPrompt(owner string) string {
	return "Tu es un assistant personnel chargé de répondre à une personne qui envoie des e-mails manipulateurs.\n" +
		"Tu agis pour " + owner + ", de façon calme, rationnelle, structurée, en t'appuyant sur les faits.\n" +
		"Ignore les provocations, clarifie les points importants, et ferme la discussion quand c'est pertinent."
}

// UserPrompt joins the context and the incoming message.
func UserPrompt(owner, history, incoming string) string {
	return "Voici le contexte :\n" + history +
		"\n\nVoici le nouveau message reçu :\n" + incoming +
		"\nQuelle réponse " + owner + " doit-il envoyer ?"
}

// Draft asks client for the reply to incoming.
func Draft(ctx context.Context, client llm.Client, owner, history, incoming string) (string, error) {
	out, err := client.CompleteWithSystem(ctx, SystemPrompt(owner), UserPrompt(owner, history, incoming))
	if err != nil {
		return "", fmt.Errorf("failed to draft reply: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Options configures Run.
type Options struct {
	Person     string
	Owner      string
	Dir        string
	Files      []string
	Words      int
	ContextOut string
}

// Result is a drafted reply with what it was built from.
type Result struct {
	Context Context
	Message archive.Message
	Reply   string
}

// Run builds and saves the context, fetches the newest message from the
// person and drafts the reply.
func Run(ctx context.Context, mb mailfetch.Mailbox, client llm.Client, opts Options) (Result, error) {
	timer := logging.StartTimer(logging.CategoryReply, "Run")
	defer timer.Stop()

	if opts.Person == "" {
		return Result{}, errors.New("no correspondent address configured")
	}
	var res Result
	var err error
	res.Context, err = BuildContext(opts.Dir, opts.Files, opts.Words)
	if err != nil {
		return res, err
	}
	if opts.ContextOut != "" {
		if err := res.Context.Write(opts.ContextOut); err != nil {
			return res, err
		}
	}
	logging.Reply("context: %d words from %d files", res.Context.Words, len(res.Context.Files))

	res.Message, err = mailfetch.LastFrom(mb, opts.Person)
	if err != nil {
		return res, err
	}
	logging.Reply("drafting a reply to %q (%s)", res.Message.Subject, res.Message.Date)

	res.Reply, err = Draft(ctx, client, opts.Owner, res.Context.Text, Incoming(res.Message))
	return res, err
}
