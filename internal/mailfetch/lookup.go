package mailfetch

import (
	"autopn/internal/archive"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
)

// ErrNoMessage is returned when no message matches a lookup.
var ErrNoMessage = errors.New("no message found")

// Subject is a message subject with its envelope date.
type Subject struct {
	UID     uint32
	Date    time.Time
	Subject string
}

// LastFrom returns the newest message sent by addr in the selected folder.
func LastFrom(m Mailbox, addr string) (archive.Message, error) {
	c := imap.NewSearchCriteria()
	c.Header.Add("From", addr)
	uids, err := m.UidSearch(c)
	if err != nil {
		return archive.Message{}, fmt.Errorf("failed to search messages from %s: %w", addr, err)
	}
	if len(uids) == 0 {
		return archive.Message{}, fmt.Errorf("%w from %s", ErrNoMessage, addr)
	}
	last := uids[0]
	for _, uid := range uids[1:] {
		last = max(last, uid)
	}

	msgs, err := fetch(m, []uint32{last}, []imap.FetchItem{bodySection.FetchItem(), imap.FetchUid})
	if err != nil {
		return archive.Message{}, err
	}
	msg, ok := msgs[last]
	if !ok {
		return archive.Message{}, fmt.Errorf("%w: UID %d not returned", ErrNoMessage, last)
	}
	r := msg.GetBody(bodySection)
	if r == nil {
		return archive.Message{}, fmt.Errorf("%w: UID %d has no body", ErrNoMessage, last)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return archive.Message{}, fmt.Errorf("failed to read UID %d: %w", last, err)
	}
	out, _, err := ParseMessage(last, raw)
	return out, err
}

// ScanSubjects lists the messages from addr whose subject starts with
// prefix, compared case-insensitively, oldest first.
func ScanSubjects(m Mailbox, addr, prefix string) ([]Subject, error) {
	c := imap.NewSearchCriteria()
	c.Header.Add("From", addr)
	uids, err := m.UidSearch(c)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages from %s: %w", addr, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	msgs, err := fetch(m, uids, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid})
	if err != nil {
		return nil, err
	}

	prefix = strings.ToLower(strings.TrimSpace(prefix))
	var out []Subject
	for uid, msg := range msgs {
		if msg.Envelope == nil {
			continue
		}
		subj := strings.TrimSpace(msg.Envelope.Subject)
		if !strings.HasPrefix(strings.ToLower(subj), prefix) {
			continue
		}
		out = append(out, Subject{UID: uid, Date: msg.Envelope.Date, Subject: subj})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}
