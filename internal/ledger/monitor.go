package ledger

import (
	"autopn/internal/llm"
	"autopn/internal/logging"
	"autopn/internal/mailfetch"
	"autopn/internal/ui"
	"context"
	"fmt"
	"time"
)

// TableRows is the number of rows shown by Table.
const TableRows = 10

// Monitor runs one pass over a payment table: due generation, payment
// scan and reminders.
type Monitor struct {
	CSV      string
	Tracker  string
	Person   string
	Owner    string
	Amount   float64
	Prefix   string
	Interval time.Duration

	// Scan lists the subjects announcing payments. Nil skips the scan.
	Scan func() ([]mailfetch.Subject, error)
	// Sender delivers reminders. Nil skips reminders.
	Sender Sender
	// Client drafts reminders. Nil uses the fixed text.
	Client llm.Client
	Now    func() time.Time
}

// Report summarizes a monitor pass.
type Report struct {
	Dues     []Row
	Payments []Row
	Remind   RemindResult
	Rows     []Row
}

// Run performs the pass and saves the table when rows were added.
func (m *Monitor) Run(ctx context.Context) (Report, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "Run")
	defer timer.Stop()

	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	rows, err := Load(m.CSV)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	rep.Dues = GenerateDue(rows, now, m.Amount)
	rows = append(rows, rep.Dues...)
	if len(rep.Dues) > 0 {
		logging.Ledger("%d due rows added", len(rep.Dues))
	}

	if m.Scan != nil {
		subjects, err := m.Scan()
		if err != nil {
			logging.LedgerWarn("payment scan failed: %v", err)
		} else {
			rep.Payments = Payments(rows, subjects, m.Prefix, now)
			rows = append(rows, rep.Payments...)
			for _, p := range rep.Payments {
				logging.Ledger("payment of %s recorded on %s", FormatAmount(p.Paid), p.Day())
			}
		}
	}

	if len(rep.Dues)+len(rep.Payments) > 0 {
		if err := Save(m.CSV, rows); err != nil {
			return rep, err
		}
	} else {
		Sort(rows)
	}
	rep.Rows = rows

	if m.Sender != nil && m.Person != "" {
		rep.Remind, err = Remind(ctx, rows, LoadTracker(m.Tracker), m.Sender, m.Client, m.Owner, m.Person, now, m.Interval)
		if err != nil {
			return rep, err
		}
	} else {
		rep.Remind.Overdue = len(Overdue(rows, now))
	}
	return rep, nil
}

// Table builds the display of the last TableRows rows with the totals in
// the footer.
func Table(rows []Row) *ui.Table {
	t := ui.NewTable("Paiements", Fields...)
	start := max(0, len(rows)-TableRows)
	for _, r := range rows[start:] {
		t.AddRow(r.Day(), FormatAmount(r.Paid), FormatAmount(r.Due), r.Note)
	}
	tot := Sum(rows)
	t.Footer = fmt.Sprintf("Total dû %.2f € | payé %.2f € | solde %.2f €", tot.Due, tot.Paid, tot.Balance)
	return t
}
