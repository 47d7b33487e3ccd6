package reply

import (
	"autopn/internal/archive"
	"autopn/internal/mailfetch"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailbox struct {
	raw map[uint32]string
}

func (m *mailbox) List(_, _ string, ch chan *imap.MailboxInfo) error {
	close(ch)
	return nil
}

func (m *mailbox) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	return &imap.MailboxStatus{Name: name}, nil
}

func (m *mailbox) UidSearch(*imap.SearchCriteria) ([]uint32, error) {
	var out []uint32
	for uid := range m.raw {
		out = append(out, uid)
	}
	return out, nil
}

func (m *mailbox) UidFetch(seq *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	for uid, raw := range m.raw {
		if !seq.Contains(uid) {
			continue
		}
		msg := imap.NewMessage(0, nil)
		msg.Uid = uid
		msg.Body = map[*imap.BodySectionName]imap.Literal{{}: bytes.NewBufferString(raw)}
		ch <- msg
	}
	return nil
}

func (m *mailbox) Logout() error { return nil }

type client struct {
	system, user string
	err          error
}

func (c *client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *client) CompleteWithSystem(_ context.Context, system, user string) (string, error) {
	c.system, c.user = system, user
	return "  Je maintiens ma position.\n", c.err
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestBuildContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "un deux trois\nquatre cinq\n")
	writeFile(t, dir, "b.txt", "six sept\nhuit neuf dix onze\ndouze")

	c, err := BuildContext(dir, []string{"a.txt", " missing.txt ", "", "b.txt"}, 8)
	require.NoError(t, err)
	assert.Equal(t, "un deux trois\nquatre cinq\nsix sept\n", c.Text)
	assert.Equal(t, 7, c.Words)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")}, c.Files)

	c, err = BuildContext(dir, []string{filepath.Join(dir, "b.txt")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Words)
	assert.True(t, strings.HasSuffix(c.Text, "douze"))
}

func TestBuildContext_StopsAtBudget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "un deux\n")
	writeFile(t, dir, "b.txt", "trois\n")

	c, err := BuildContext(dir, []string{"a.txt", "b.txt"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "un deux\n", c.Text)
	assert.Len(t, c.Files, 1)
}

func TestContextWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "contexte_actuel.txt")
	require.NoError(t, Context{Text: "bonjour\n", Words: 1}.Write(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bonjour\n", string(data))
}

func TestIncoming(t *testing.T) {
	got := Incoming(archive.Message{Date: "2024-03-01", From: "maman@example.com", Subject: "Le terrain", Body: "\nTu as signé ?\n"})
	assert.Equal(t, "Message reçu le 2024-03-01 de maman@example.com :\nObjet : Le terrain\n\nTu as signé ?\n", got)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "emails_2024.txt", "ancien échange\n")
	out := filepath.Join(dir, "contexte_actuel.txt")
	mb := &mailbox{raw: map[uint32]string{
		3: "From: maman@example.com\r\nDate: Fri, 01 Mar 2024 10:00:00 +0100\r\nSubject: Ancien\r\n\r\nvieux\r\n",
		7: "From: maman@example.com\r\nDate: Sat, 02 Mar 2024 10:00:00 +0100\r\nSubject: Le terrain\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nTu as signé ?\r\n",
	}}
	c := &client{}

	res, err := Run(context.Background(), mb, c, Options{
		Person: "maman@example.com", Owner: "Yann", Dir: dir,
		Files: []string{"emails_2024.txt"}, ContextOut: out,
	})
	require.NoError(t, err)
	assert.Equal(t, "Je maintiens ma position.", res.Reply)
	assert.Equal(t, "Le terrain", res.Message.Subject)
	assert.Contains(t, c.system, "Tu agis pour Yann")
	assert.Contains(t, c.user, "Voici le contexte :\nancien échange\n")
	assert.Contains(t, c.user, "Objet : Le terrain\n\nTu as signé ?\n")
	assert.True(t, strings.HasSuffix(c.user, "Quelle réponse Yann doit-il envoyer ?"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "ancien échange\n", string(data))
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), &mailbox{}, &client{}, Options{})
	assert.Error(t, err)

	_, err = Run(context.Background(), &mailbox{}, &client{}, Options{Person: "maman@example.com", Dir: t.TempDir()})
	assert.ErrorIs(t, err, mailfetch.ErrNoMessage)

	mb := &mailbox{raw: map[uint32]string{1: "From: maman@example.com\r\nSubject: x\r\n\r\ny\r\n"}}
	_, err = Run(context.Background(), mb, &client{err: errors.New("quota")}, Options{Person: "maman@example.com", Dir: t.TempDir()})
	assert.ErrorContains(t, err, "failed to draft reply")
}
