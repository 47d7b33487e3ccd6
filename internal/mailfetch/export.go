package mailfetch

import (
	"autopn/internal/archive"
	"autopn/internal/logging"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
)

// Defaults of Settings.
const (
	DefaultBatchSize = 200
	DefaultRetries   = 3
	logEvery         = 50
)

// unknownYearFile receives messages whose date cannot be parsed.
const unknownYearFile = "emails_inconnu.txt"

// Settings configures an export.
type Settings struct {
	// Me is the account address, the other side of every search.
	Me         string
	Folder     string
	OutDir     string
	BatchSize  int
	YearFrom   int
	YearTo     int
	Retries    int
	RetryPause time.Duration
}

// Result counts what an export did.
type Result struct {
	Found      int
	Skipped    int
	Written    int
	Duplicates int
	OutOfRange int
	Failed     int
}

// Exporter downloads the messages exchanged with a set of addresses.
type Exporter struct {
	dial   Dialer
	set    Settings
	conn   Mailbox
	folder string
	writer *archive.Writer
	done   *Ledger
	errs   *Ledger
	res    Result
}

// NewExporter prepares an export into s.OutDir, loading its ledgers.
func NewExporter(dial Dialer, s Settings) (*Exporter, error) {
	if s.OutDir == "" {
		return nil, errors.New("output directory is required")
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.Retries <= 0 {
		s.Retries = DefaultRetries
	}
	if s.RetryPause == 0 {
		s.RetryPause = time.Second
	}
	done, err := OpenLedger(filepath.Join(s.OutDir, ProcessedLedger))
	if err != nil {
		return nil, err
	}
	errs, err := OpenLedger(filepath.Join(s.OutDir, ErrorLedger))
	if err != nil {
		return nil, err
	}
	return &Exporter{
		dial:   dial,
		set:    s,
		writer: archive.NewWriter(s.OutDir, "emails"),
		done:   done,
		errs:   errs,
	}, nil
}

// Run exports the messages exchanged with each address. A failure on one
// address or message is logged and the export goes on.
func (e *Exporter) Run(ctx context.Context, others []string) (Result, error) {
	timer := logging.StartTimer(logging.CategoryFetch, "Export")
	defer timer.Stop()

	if err := e.connect(ctx); err != nil {
		return e.res, err
	}
	defer e.close()
	logging.Fetch("exporting to %s (%d UIDs already processed)", e.set.OutDir, e.done.Len())

	for _, other := range others {
		if err := ctx.Err(); err != nil {
			return e.res, err
		}
		if err := e.exportAddress(ctx, other); err != nil {
			if ctx.Err() != nil {
				return e.res, ctx.Err()
			}
			logging.FetchError("%s: %v", other, err)
		}
	}
	logging.Fetch("export finished: %+v", e.res)
	return e.res, nil
}

func (e *Exporter) exportAddress(ctx context.Context, other string) error {
	uids, err := e.search(ctx, other)
	if err != nil {
		return err
	}
	var todo []uint32
	for _, uid := range uids {
		if e.done.Has(uidString(uid)) {
			e.res.Skipped++
			continue
		}
		todo = append(todo, uid)
	}
	e.res.Found += len(uids)
	logging.Fetch("%s: %d messages, %d to fetch", other, len(uids), len(todo))

	for i := 0; i < len(todo); i += e.set.BatchSize {
		chunk := todo[i:min(i+e.set.BatchSize, len(todo))]
		raws, err := e.fetchBodies(chunk)
		if err != nil || len(raws) == 0 {
			if err != nil {
				logging.FetchWarn("batch of %d failed, fetching one by one: %v", len(chunk), err)
			}
			for _, uid := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}
				raw, err := e.fetchOne(ctx, uid)
				if err != nil {
					e.fail(uid, err)
					continue
				}
				e.handle(uid, raw)
			}
			continue
		}
		for j, uid := range chunk {
			raw, ok := raws[uid]
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				logging.FetchWarn("UID %d missing from batch response, fetching alone", uid)
				if raw, err = e.fetchOne(ctx, uid); err != nil {
					e.fail(uid, err)
					continue
				}
			}
			e.handle(uid, raw)
			if n := i + j + 1; n%logEvery == 0 || n == len(todo) {
				logging.Fetch("%d/%d · %s · UID %d", n, len(todo), other, uid)
			}
		}
	}
	return nil
}

// search returns the UIDs of messages from other to me and from me to
// other within the year bounds.
func (e *Exporter) search(ctx context.Context, other string) ([]uint32, error) {
	seen := make(map[uint32]bool)
	failures := 0
	var lastErr error
	for _, pair := range [][2]string{{other, e.set.Me}, {e.set.Me, other}} {
		c := e.criteria(pair[0], pair[1])
		var uids []uint32
		err := e.retry(ctx, "search", func(m Mailbox) error {
			var err error
			uids, err = m.UidSearch(c)
			return err
		})
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		for _, uid := range uids {
			seen[uid] = true
		}
	}
	if failures == 2 {
		return nil, lastErr
	}
	out := make([]uint32, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (e *Exporter) criteria(from, to string) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	c.Header.Add("From", from)
	if to != "" {
		c.Header.Add("To", to)
	}
	if e.set.YearFrom > 0 {
		c.Since = time.Date(e.set.YearFrom, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if e.set.YearTo > 0 {
		c.Before = time.Date(e.set.YearTo+1, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return c
}

var bodySection = &imap.BodySectionName{Peek: true}

func (e *Exporter) fetchBodies(uids []uint32) (map[uint32][]byte, error) {
	if e.conn == nil {
		return nil, errors.New("not connected")
	}
	msgs, err := fetch(e.conn, uids, []imap.FetchItem{bodySection.FetchItem(), imap.FetchUid})
	out := make(map[uint32][]byte, len(msgs))
	for uid, msg := range msgs {
		r := msg.GetBody(bodySection)
		if r == nil {
			continue
		}
		data, rerr := io.ReadAll(r)
		if rerr != nil {
			continue
		}
		out[uid] = data
	}
	return out, err
}

func (e *Exporter) fetchOne(ctx context.Context, uid uint32) ([]byte, error) {
	var raw []byte
	err := e.retry(ctx, "fetch "+uidString(uid), func(Mailbox) error {
		raws, err := e.fetchBodies([]uint32{uid})
		if err != nil {
			return err
		}
		data, ok := raws[uid]
		if !ok {
			return errors.New("empty fetch response")
		}
		raw = data
		return nil
	})
	return raw, err
}

// handle writes one message and records it in the ledgers.
func (e *Exporter) handle(uid uint32, raw []byte) {
	id := uidString(uid)
	msg, date, err := ParseMessage(uid, raw)
	if err != nil {
		e.fail(uid, err)
		return
	}

	var written bool
	switch {
	case date.IsZero():
		written, err = e.writer.WriteBlock(filepath.Join(e.set.OutDir, unknownYearFile), msg.Format())
	case (e.set.YearFrom > 0 && date.Year() < e.set.YearFrom) || (e.set.YearTo > 0 && date.Year() > e.set.YearTo):
		e.res.OutOfRange++
		e.record(id)
		return
	default:
		written, err = e.writer.Write(date.Year(), msg)
	}
	if err != nil {
		e.fail(uid, err)
		return
	}
	if written {
		e.res.Written++
	} else {
		e.res.Duplicates++
	}
	logging.Audit().MailFetch(uid, true, "")
	e.record(id)
}

func (e *Exporter) record(id string) {
	if err := e.done.Add(id); err != nil {
		logging.FetchError("failed to record UID %s: %v", id, err)
	}
}

func (e *Exporter) fail(uid uint32, err error) {
	e.res.Failed++
	logging.FetchWarn("UID %d: %v", uid, err)
	logging.Audit().MailFetch(uid, false, err.Error())
	if lerr := e.errs.Add(uidString(uid)); lerr != nil {
		logging.FetchError("failed to record error UID %d: %v", uid, lerr)
	}
}

// retry runs fn up to Retries times, reconnecting after each failure.
func (e *Exporter) retry(ctx context.Context, op string, fn func(Mailbox) error) error {
	var err error
	for attempt := 1; attempt <= e.set.Retries; attempt++ {
		if e.conn == nil {
			err = errors.New("not connected")
		} else if err = fn(e.conn); err == nil {
			return nil
		}
		logging.FetchWarn("%s failed (attempt %d/%d): %v", op, attempt, e.set.Retries, err)
		if attempt == e.set.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.set.RetryPause):
		}
		if rerr := e.reconnect(ctx); rerr != nil {
			logging.FetchWarn("reconnect failed: %v", rerr)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, e.set.Retries, err)
}

func (e *Exporter) connect(ctx context.Context) error {
	conn, folder, err := Open(ctx, e.dial, e.set.Folder)
	if err != nil {
		return err
	}
	e.conn, e.folder = conn, folder
	return nil
}

func (e *Exporter) reconnect(ctx context.Context) error {
	e.close()
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Select(e.folder, true); err != nil {
		conn.Logout()
		return fmt.Errorf("failed to reselect %s: %w", e.folder, err)
	}
	e.conn = conn
	return nil
}

func (e *Exporter) close() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Logout(); err != nil {
		logging.FetchDebug("logout: %v", err)
	}
	e.conn = nil
}

func uidString(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}
