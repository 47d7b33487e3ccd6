package ledger

import (
	"autopn/internal/llm"
	"autopn/internal/logging"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Tracker records when a reminder was last sent for each due day.
type Tracker struct {
	path string
	Sent map[string]time.Time
}

// LoadTracker reads the JSON tracker at path. A missing or unreadable file
// starts an empty tracker.
func LoadTracker(path string) *Tracker {
	t := &Tracker{path: path, Sent: make(map[string]time.Time)}
	data, err := os.ReadFile(path)
	if err != nil {
		return t
	}
	if err := json.Unmarshal(data, &t.Sent); err != nil {
		logging.LedgerWarn("ignoring tracker %s: %v", path, err)
		t.Sent = make(map[string]time.Time)
	}
	return t
}

// Due reports whether a reminder for day may be sent at now.
func (t *Tracker) Due(day string, now time.Time, interval time.Duration) bool {
	last, ok := t.Sent[day]
	return !ok || now.Sub(last) >= interval
}

// Mark records a reminder for day sent at now.
func (t *Tracker) Mark(day string, now time.Time) {
	t.Sent[day] = now
}

// Save writes the tracker back to its file.
func (t *Tracker) Save() error {
	data, err := json.MarshalIndent(t.Sent, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tracker: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tracker: %w", err)
	}
	return nil
}

// ReminderSubject is the subject of the reminder for an overdue row.
func ReminderSubject(r Row) string {
	return "Rappel de paiement du " + r.Day()
}

// DefaultReminder is the fixed reminder text used without a model.
func DefaultReminder(r Row) string {
	return fmt.Sprintf("Bonjour,\n\nNous n'avons pas reçu le paiement prévu pour le %s.\nMerci de régulariser rapidement.", r.Day())
}

// Reminder drafts the reminder for r with client, or returns the fixed
// text when client is nil or fails.
func Reminder(ctx context.Context, client llm.Client, owner string, r Row) string {
	if client == nil {
		return DefaultReminder(r)
	}
	system := fmt.Sprintf("%s attend un paiement de %s € depuis le %s.\n"+
		"La personne n'a pas payé. Elle est coutumière des retards.\n"+
		"Rédige un rappel ferme, factuel, sans agressivité.", owner, FormatAmount(r.Due-r.Paid), r.Day())
	text, err := client.CompleteWithSystem(ctx, system, "Rédige le message à envoyer.")
	if err != nil || strings.TrimSpace(text) == "" {
		logging.LedgerWarn("reminder for %s falls back to the fixed text: %v", r.Day(), err)
		return DefaultReminder(r)
	}
	return strings.TrimSpace(text)
}

// Summary is the account summary appended to every reminder.
func Summary(rows []Row) string {
	t := Sum(rows)
	var b strings.Builder
	b.WriteString("--- RÉSUMÉ ---\n")
	fmt.Fprintf(&b, "Total dû : %.2f €\n", t.Due)
	fmt.Fprintf(&b, "Total payé : %.2f €\n", t.Paid)
	fmt.Fprintf(&b, "Solde restant : %.2f €\n", t.Balance)
	last := LastPayments(rows, 3)
	if len(last) > 0 {
		b.WriteString("Derniers paiements :\n")
		for _, r := range last {
			fmt.Fprintf(&b, "- %s : %.2f €\n", r.Day(), r.Paid)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Sender delivers a plain-text message.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends through an SMTP relay with PLAIN auth. The connection
// is upgraded with STARTTLS when the server offers it.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Send implements Sender.
func (s *SMTPSender) Send(to, subject, body string) error {
	if s.Host == "" || s.Username == "" {
		return errors.New("smtp server and username are required")
	}
	var msg bytes.Buffer
	if err := ComposeMessage(&msg, s.Username, to, subject, body, time.Now()); err != nil {
		return err
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	if err := smtp.SendMail(addr, auth, s.Username, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// ComposeMessage writes an RFC 5322 text/plain message with encoded
// headers and a quoted-printable body.
func ComposeMessage(w io.Writer, from, to, subject, body string, date time.Time) error {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	bw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	if _, err := io.WriteString(bw, body); err != nil {
		bw.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// RemindResult summarizes a reminder pass.
type RemindResult struct {
	Overdue int
	Sent    int
	Skipped int
	Failed  int
}

// Remind sends one reminder per overdue row of rows to person, skipping
// days reminded within interval. The tracker is saved when anything was
// sent.
func Remind(ctx context.Context, rows []Row, tr *Tracker, s Sender, client llm.Client, owner, person string, now time.Time, interval time.Duration) (RemindResult, error) {
	overdue := Overdue(rows, now)
	res := RemindResult{Overdue: len(overdue)}
	if len(overdue) == 0 {
		return res, nil
	}
	summary := Summary(rows)
	for _, r := range overdue {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !tr.Due(r.Day(), now, interval) {
			res.Skipped++
			logging.LedgerDebug("reminder for %s sent recently", r.Day())
			continue
		}
		subject := ReminderSubject(r)
		body := Reminder(ctx, client, owner, r) + "\n\n" + summary
		if err := s.Send(person, subject, body); err != nil {
			res.Failed++
			logging.LedgerError("reminder for %s: %v", r.Day(), err)
			logging.Audit().MailSend(person, subject, false, err.Error())
			continue
		}
		logging.Audit().MailSend(person, subject, true, "")
		logging.Ledger("reminder sent for %s", r.Day())
		tr.Mark(r.Day(), now)
		res.Sent++
	}
	if res.Sent > 0 {
		if err := tr.Save(); err != nil {
			return res, err
		}
	}
	return res, nil
}
