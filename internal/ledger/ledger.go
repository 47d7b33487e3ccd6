// Package ledger keeps the payment table of a relation: scheduled dues,
// payments announced by mail and reminders for overdue dues.
package ledger

import (
	"autopn/internal/logging"
	"autopn/internal/mailfetch"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the day format of the date column.
const DateLayout = "2006-01-02"

// Fields is the header of the payment table.
var Fields = []string{"date", "paiement", "due", "note"}

// Row is one line of the payment table.
type Row struct {
	Date time.Time
	Paid float64
	Due  float64
	Note string
}

// Day returns the row date in DateLayout.
func (r Row) Day() string {
	return r.Date.Format(DateLayout)
}

func (r Row) record() []string {
	return []string{r.Day(), FormatAmount(r.Paid), FormatAmount(r.Due), r.Note}
}

// FormatAmount writes an amount with the fewest decimals needed.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Load reads the payment table at path. A missing file is an empty table.
// Rows whose date or amounts cannot be parsed are skipped.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a payment table with a header line.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	col := make(map[string]int)
	for i, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var rows []Row
	for n, rec := range records[1:] {
		d, err := time.Parse(DateLayout, get(rec, "date"))
		if err != nil {
			logging.LedgerWarn("line %d: bad date %q", n+2, get(rec, "date"))
			continue
		}
		paid, err1 := parseAmount(get(rec, "paiement"))
		due, err2 := parseAmount(get(rec, "due"))
		if err := errors.Join(err1, err2); err != nil {
			logging.LedgerWarn("line %d: bad amount: %v", n+2, err)
			continue
		}
		rows = append(rows, Row{Date: d, Paid: paid, Due: due, Note: get(rec, "note")})
	}
	return rows, nil
}

// Save writes rows to path, ordered by date.
func Save(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	Sort(rows)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(Fields)
	for _, r := range rows {
		_ = w.Write(r.record())
	}
	w.Flush()
	if err := errors.Join(w.Error(), f.Close()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	logging.Audit().FileWrite(path, len(rows))
	return nil
}

// Sort orders rows by date, keeping the file order of a same day.
func Sort(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDue returns the due date following d: the 15th when d is before it,
// the 1st of the next month otherwise.
func NextDue(d time.Time) time.Time {
	d = day(d)
	if d.Day() < 15 {
		return time.Date(d.Year(), d.Month(), 15, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// GenerateDue returns the due rows missing up to today. Scheduling
// resumes after the latest date of rows, or from the 1st of the current
// month on an empty table.
func GenerateDue(rows []Row, today time.Time, amount float64) []Row {
	today = day(today)
	var cur time.Time
	if len(rows) == 0 {
		cur = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		for _, r := range rows {
			if r.Date.After(cur) {
				cur = r.Date
			}
		}
	}
	var out []Row
	for {
		cur = NextDue(cur)
		if cur.After(today) {
			return out
		}
		out = append(out, Row{Date: cur, Due: amount, Note: fmt.Sprintf("compensation automatique du %d", cur.Day())})
	}
}

// PaymentNote is the note of a payment row read from a mail subject.
func PaymentNote(prefix string, amount float64) string {
	return prefix + FormatAmount(amount)
}

// ParseSubject returns the amount announced by a subject starting with
// prefix, case-insensitively.
func ParseSubject(subject, prefix string) (float64, bool) {
	s := strings.TrimSpace(subject)
	if prefix == "" || len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return 0, false
	}
	fields := strings.Fields(s[len(prefix):])
	if len(fields) == 0 {
		return 0, false
	}
	v, err := parseAmount(fields[0])
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Payments turns announcement subjects into payment rows dated by the
// mail, falling back to today. An amount is recorded once per day, across
// rows and the new subjects.
func Payments(rows []Row, subjects []mailfetch.Subject, prefix string, today time.Time) []Row {
	seen := make(map[string]bool)
	key := func(d time.Time, v float64) string { return d.Format(DateLayout) + "|" + FormatAmount(v) }
	for _, r := range rows {
		if r.Paid > 0 {
			seen[key(r.Date, r.Paid)] = true
		}
	}
	var out []Row
	for _, s := range subjects {
		v, ok := ParseSubject(s.Subject, prefix)
		if !ok {
			continue
		}
		d := day(today)
		if !s.Date.IsZero() {
			d = day(s.Date)
		}
		if seen[key(d, v)] {
			continue
		}
		seen[key(d, v)] = true
		out = append(out, Row{Date: d, Paid: v, Note: PaymentNote(prefix, v)})
	}
	return out
}

// Totals sums dues and payments. The balance is never negative.
type Totals struct {
	Due     float64
	Paid    float64
	Balance float64
}

// Sum returns the totals of rows.
func Sum(rows []Row) Totals {
	var t Totals
	for _, r := range rows {
		t.Due += r.Due
		t.Paid += r.Paid
	}
	t.Balance = max(0, t.Due-t.Paid)
	return t
}

// Overdue returns the rows dated before today whose payment is below
// their due.
func Overdue(rows []Row, today time.Time) []Row {
	today = day(today)
	var out []Row
	for _, r := range rows {
		if r.Date.Before(today) && r.Paid < r.Due {
			out = append(out, r)
		}
	}
	return out
}

// LastPayments returns up to n of the latest rows with a payment, newest
// first.
func LastPayments(rows []Row, n int) []Row {
	var out []Row
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		if rows[i].Paid > 0 {
			out = append(out, rows[i])
		}
	}
	return out
}
