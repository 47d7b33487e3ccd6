// Package mailfetch exports the messages exchanged with a relation from an
// IMAP account into per-year archive files.
package mailfetch

import (
	"autopn/internal/logging"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// allMailAttr is the RFC 6154 attribute of the mailbox holding every message.
const allMailAttr = `\All`

// Mailbox is the part of the IMAP client the exporter uses.
type Mailbox interface {
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// Dialer opens an authenticated connection.
type Dialer func(ctx context.Context) (Mailbox, error)

// TLSDialer dials addr over TLS and logs in.
func TLSDialer(addr, username, password string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Mailbox, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: timeout}, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		c.Timeout = timeout
		if err := c.Login(username, password); err != nil {
			c.Logout()
			return nil, fmt.Errorf("failed to log in as %s: %w", username, err)
		}
		logging.FetchDebug("connected to %s as %s", addr, username)
		return c, nil
	}
}

// ListMailboxes returns every mailbox of the account.
func ListMailboxes(m Mailbox) ([]*imap.MailboxInfo, error) {
	ch := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.List("", "*", ch)
	}()
	var out []*imap.MailboxInfo
	for mi := range ch {
		out = append(out, mi)
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return out, nil
}

// DiscoverAllMail returns the mailbox flagged \All, preferring [Gmail]/
// names and then the shortest name. Empty when there is none.
func DiscoverAllMail(infos []*imap.MailboxInfo) string {
	var cands []string
	for _, mi := range infos {
		for _, attr := range mi.Attributes {
			if strings.EqualFold(attr, allMailAttr) {
				cands = append(cands, mi.Name)
				break
			}
		}
	}
	if len(cands) == 0 {
		return ""
	}
	sort.SliceStable(cands, func(i, j int) bool {
		gi, gj := strings.HasPrefix(cands[i], "[Gmail]/"), strings.HasPrefix(cands[j], "[Gmail]/")
		if gi != gj {
			return gi
		}
		return len(cands[i]) < len(cands[j])
	})
	return cands[0]
}

// SelectFolder opens the first selectable folder among the configured one,
// the \All mailbox and INBOX. It returns the folder name.
func SelectFolder(m Mailbox, configured string) (string, error) {
	var cands []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		for _, c := range cands {
			if c == name {
				return
			}
		}
		cands = append(cands, name)
	}
	add(configured)
	if infos, err := ListMailboxes(m); err != nil {
		logging.FetchWarn("%v", err)
	} else {
		for _, mi := range infos {
			logging.FetchDebug("mailbox %s %v", mi.Name, mi.Attributes)
		}
		add(DiscoverAllMail(infos))
	}
	add("INBOX")

	var lastErr error
	for _, name := range cands {
		if _, err := m.Select(name, true); err != nil {
			lastErr = err
			logging.FetchDebug("select %s failed: %v", name, err)
			continue
		}
		logging.Fetch("selected IMAP folder %s", name)
		return name, nil
	}
	return "", fmt.Errorf("failed to open any IMAP folder among %v: %w", cands, lastErr)
}

// Open dials and selects a folder.
func Open(ctx context.Context, dial Dialer, folder string) (Mailbox, string, error) {
	m, err := dial(ctx)
	if err != nil {
		return nil, "", err
	}
	name, err := SelectFolder(m, folder)
	if err != nil {
		m.Logout()
		return nil, "", err
	}
	return m, name, nil
}

// fetch runs a UID FETCH and collects the returned messages by UID.
func fetch(m Mailbox, uids []uint32, items []imap.FetchItem) (map[uint32]*imap.Message, error) {
	seq := new(imap.SeqSet)
	seq.AddNum(uids...)

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.UidFetch(seq, items, ch)
	}()
	out := make(map[uint32]*imap.Message, len(uids))
	for msg := range ch {
		out[msg.Uid] = msg
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("failed to fetch %d messages: %w", len(uids), err)
	}
	return out, nil
}
