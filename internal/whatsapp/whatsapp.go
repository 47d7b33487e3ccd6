// Package whatsapp converts a WhatsApp chat export into archive blocks, one
// whatsapp_YYYY.txt file per year.
package whatsapp

import (
	"autopn/internal/archive"
	"autopn/internal/config"
	"autopn/internal/logging"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// FilePrefix names the per-year output files.
const FilePrefix = "whatsapp"

var lineRe = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}), (\d{1,2}:\d{2})[\x{202f} ]?(AM|PM|am|pm)? - ([^:]+): (.*)$`)

// Message is one chat message.
type Message struct {
	Time   time.Time
	Author string
	Text   string
}

// ParseTime reads the month/day/year date and the 12h or 24h clock of a
// message header.
func ParseTime(date, clock, ampm string) (time.Time, bool) {
	for _, layout := range []string{"1/2/06", "1/2/2006"} {
		var t time.Time
		var err error
		if ampm != "" {
			t, err = time.Parse(layout+" 3:04 PM", date+" "+clock+" "+strings.ToUpper(ampm))
		} else {
			t, err = time.Parse(layout+" 15:04", date+" "+clock)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Decode returns data as text, reading it as Latin-1 when it is not valid
// UTF-8.
func Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode Latin-1: %w", err)
	}
	logging.ConvertDebug("export is not UTF-8, decoded as Latin-1")
	return string(out), nil
}

// Parse splits an export into messages. Lines that do not start a message
// continue the previous one; messages outside years are dropped along with
// their continuation lines.
func Parse(text string, years config.YearRange) []Message {
	var out []Message
	var cur *Message
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, line := range strings.Split(text, "\n") {
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			if cur != nil {
				cur.Text += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		flush()
		t, ok := ParseTime(m[1], m[2], m[3])
		if !ok || !years.Contains(t.Year()) {
			continue
		}
		cur = &Message{Time: t, Author: strings.TrimSpace(m[4]), Text: strings.TrimSpace(m[5])}
	}
	flush()
	return out
}

// Options configures Convert.
type Options struct {
	Subject   string
	Recipient string
	Years     config.YearRange
}

// Result counts what Convert did.
type Result struct {
	Messages   int
	Written    int
	Duplicates int
	Years      []int
}

// Convert reads the export at chatPath and appends its messages to
// <outDir>/whatsapp_<year>.txt, skipping blocks already present.
func Convert(chatPath, outDir string, opts Options) (Result, error) {
	var res Result
	data, err := os.ReadFile(chatPath)
	if err != nil {
		return res, fmt.Errorf("failed to read WhatsApp export: %w", err)
	}
	text, err := Decode(data)
	if err != nil {
		return res, err
	}
	if opts.Subject == "" {
		opts.Subject = "WhatsApp"
	}

	msgs := Parse(text, opts.Years)
	res.Messages = len(msgs)
	w := archive.NewWriter(outDir, FilePrefix)
	perYear := make(map[int]int)
	for _, m := range msgs {
		block := archive.Message{
			Date:    m.Time.Format("2006-01-02"),
			From:    m.Author,
			To:      opts.Recipient,
			Subject: opts.Subject,
			Body:    m.Text,
		}
		written, err := w.Write(m.Time.Year(), block)
		if err != nil {
			return res, err
		}
		if written {
			res.Written++
			perYear[m.Time.Year()]++
		} else {
			res.Duplicates++
		}
	}
	for y := range perYear {
		res.Years = append(res.Years, y)
	}
	sort.Ints(res.Years)

	logging.Convert("WhatsApp %s: %d messages, %d written, %d duplicates",
		chatPath, res.Messages, res.Written, res.Duplicates)
	for _, y := range res.Years {
		logging.Audit().FileWrite(w.Path(y), perYear[y])
	}
	return res, nil
}
