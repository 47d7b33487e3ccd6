package mailfetch

import (
	"autopn/internal/archive"
	"autopn/internal/logging"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const noSubject = "(sans sujet)"

// ParseMessage turns a raw RFC 822 message into an archive block. The
// returned time is zero when the Date header cannot be parsed; Date then
// holds the raw header.
func ParseMessage(uid uint32, raw []byte) (archive.Message, time.Time, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return archive.Message{}, time.Time{}, fmt.Errorf("failed to parse message %d: %w", uid, err)
	}
	if err != nil {
		logging.FetchWarn("message %d: %v", uid, err)
	}

	h := mr.Header
	from, _ := h.Text("From")
	to, _ := h.Text("To")
	subject, _ := h.Subject()
	if strings.TrimSpace(subject) == "" {
		subject = noSubject
	}

	msg := archive.Message{
		From:    strings.TrimSpace(from),
		To:      strings.TrimSpace(to),
		Subject: strings.TrimSpace(subject),
		UID:     strconv.FormatUint(uint64(uid), 10),
		Body:    readBody(uid, mr),
	}

	date, err := h.Date()
	if err != nil || date.IsZero() {
		msg.Date = strings.TrimSpace(h.Get("Date"))
		return msg, time.Time{}, nil
	}
	msg.Date = date.Format("2006-01-02")
	return msg, date, nil
}

// readBody returns the first text/plain part, else the first text/html
// part converted to text. Attachments are ignored.
func readBody(uid uint32, mr *mail.Reader) string {
	var plain, html string
	for plain == "" {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logging.FetchDebug("message %d: stopped reading parts: %v", uid, err)
			break
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			logging.FetchDebug("message %d: unreadable %s part: %v", uid, ct, err)
			continue
		}
		switch ct {
		case "text/plain":
			plain = string(data)
		case "text/html":
			if html == "" {
				html = string(data)
			}
		}
	}
	if plain != "" {
		return CleanText(plain)
	}
	return HTMLToText(html)
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// CleanText trims a plain text body, stripping stray markup.
func CleanText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	return HTMLToText(s)
}

// HTMLToText extracts the text of an HTML fragment, <br> and paragraph
// ends becoming line breaks.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return strings.TrimSpace(doc.Text())
}
