// Package archive reads and writes the plain-text message archive format
// shared by every tool: one "=== MESSAGE ===" block per message, grouped in
// per-year files (emails_YYYY.txt, whatsapp_YYYY.txt).
package archive

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

const (
	blockStart = "=== MESSAGE ==="
	blockEnd   = "=== FIN ==="
	dateLayout = "2006-01-02"
)

// Message is one block of an archive file.
type Message struct {
	Date    string
	From    string
	To      string
	Subject string
	UID     string
	Body    string
	Raw     string
}

var (
	blockRe   = regexp.MustCompile(`(?s)=== MESSAGE ===(.*?)=== FIN ===`)
	fieldDate = regexp.MustCompile(`(?m)^[ \t]*🗕[ \t]*Date[ \t]*:[ \t]*(.*)$`)
	fieldFrom = regexp.MustCompile(`(?m)^[ \t]*👤[ \t]*From[ \t]*:[ \t]*(.*)$`)
	fieldTo   = regexp.MustCompile(`(?m)^[ \t]*📨[ \t]*To[ \t]*:[ \t]*(.*)$`)
	fieldSubj = regexp.MustCompile(`(?m)^[ \t]*🧕[ \t]*Subject[ \t]*:[ \t]*(.*)$`)
	sepLine   = regexp.MustCompile(`(?m)^[ \t]*---[ \t]*$`)
	uidLine   = regexp.MustCompile(`^//\s*UID:\s*(\S+)\s*\n?`)
)

// Time parses the block date. ok is false for dates not in YYYY-MM-DD form.
func (m Message) Time() (time.Time, bool) {
	d := strings.TrimSpace(m.Date)
	if len(d) >= len(dateLayout) {
		d = d[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, d)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Year returns the year of the block date, 0 when unknown.
func (m Message) Year() int {
	t, ok := m.Time()
	if !ok {
		return 0
	}
	return t.Year()
}

// Format renders the message as a block, without trailing separator.
func (m Message) Format() string {
	var b strings.Builder
	b.WriteString(blockStart + "\n")
	fmt.Fprintf(&b, "🗕 Date : %s\n", m.Date)
	fmt.Fprintf(&b, "👤 From : %s\n", strings.TrimSpace(m.From))
	fmt.Fprintf(&b, "📨 To   : %s\n", m.To)
	fmt.Fprintf(&b, "🧕 Subject : %s\n", m.Subject)
	b.WriteString("---\n")
	if m.UID != "" {
		fmt.Fprintf(&b, "// UID: %s\n", m.UID)
	}
	b.WriteString(strings.TrimSpace(m.Body))
	b.WriteString("\n" + blockEnd)
	return b.String()
}

// Parse extracts every block of content. Missing header fields are left
// empty; a block without the "---" separator has its whole text as body.
func Parse(content string) []Message {
	matches := blockRe.FindAllStringSubmatch(content, -1)
	msgs := make([]Message, 0, len(matches))
	for _, m := range matches {
		msgs = append(msgs, parseBlock(strings.TrimSpace(m[1])))
	}
	return msgs
}

func parseBlock(b string) Message {
	msg := Message{
		Raw:     b,
		Date:    firstGroup(fieldDate, b),
		From:    firstGroup(fieldFrom, b),
		To:      firstGroup(fieldTo, b),
		Subject: firstGroup(fieldSubj, b),
	}
	body := b
	if loc := sepLine.FindStringIndex(b); loc != nil {
		body = strings.TrimSpace(b[loc[1]:])
	}
	if m := uidLine.FindStringSubmatch(body); m != nil {
		msg.UID = m[1]
		body = strings.TrimSpace(body[len(m[0]):])
	}
	body = strings.ReplaceAll(body, "=\n", "")
	body = strings.ReplaceAll(body, "=20", " ")
	msg.Body = body
	return msg
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ReadFile parses an archive file.
func ReadFile(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}
	return Parse(string(data)), nil
}
