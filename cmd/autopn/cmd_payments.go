package main

import (
	"autopn/internal/ledger"
	"autopn/internal/mailfetch"
	"autopn/internal/ui"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	paymentsNoScan   bool
	paymentsNoRemind bool
)

// paymentsCmd updates the payment ledger and sends reminders
var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Update the payment ledger, record announced payments and remind overdue ones",
	Long: `Adds the installments due since the last row (the 1st and the 15th of
each month), records the payments announced by mail subjects such as
"tzcomp=250", then mails a reminder for every overdue installment not
reminded within payments.reminder_interval.

The last rows and the totals are printed at the end.`,
	RunE: runPayments,
}

func init() {
	paymentsCmd.Flags().BoolVar(&paymentsNoScan, "no-scan", false, "Do not scan the mailbox for payments")
	paymentsCmd.Flags().BoolVar(&paymentsNoRemind, "no-remind", false, "Do not send reminders")
}

// paymentPerson returns the address payments are expected from.
func paymentPerson() (string, error) {
	if cfg.Payments.PersonEmail != "" {
		return cfg.Payments.PersonEmail, nil
	}
	rel, err := cfg.ResolveRelation(relationID)
	if err != nil {
		return "", err
	}
	if addrs := rel.Addresses(); len(addrs) > 0 {
		return addrs[0], nil
	}
	return "", fmt.Errorf("relation %s has no e-mail address (set payments.person_email)", rel.ID)
}

func runPayments(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx, cancel := commandContext()
	defer cancel()

	person, err := paymentPerson()
	if err != nil {
		return err
	}
	csvPath, err := cfg.ExpandPath(cfg.Payments.CSV)
	if err != nil {
		return err
	}
	trackerPath, err := cfg.ExpandPath(cfg.Payments.Tracker)
	if err != nil {
		return err
	}

	m := &ledger.Monitor{
		CSV:      csvPath,
		Tracker:  trackerPath,
		Person:   person,
		Owner:    cfg.OwnerLabel(),
		Amount:   cfg.Payments.DueAmount,
		Prefix:   cfg.Payments.SubjectPrefix,
		Interval: cfg.GetReminderInterval(),
	}
	if !paymentsNoScan {
		m.Scan = func() ([]mailfetch.Subject, error) {
			return scanPayments(ctx, person)
		}
	}
	if !paymentsNoRemind {
		m.Sender = &ledger.SMTPSender{
			Host:     cfg.SMTP.Server,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}
		if cfg.Payments.LLMReminders {
			client, err := newLLMClient(ctx, "", nil)
			if err != nil {
				logger.Warn("LLM reminders disabled", zap.Error(err))
			} else {
				m.Client = client
			}
		}
	}

	rep, err := m.Run(ctx)
	if err != nil {
		return finish(cmd, start, err)
	}
	logger.Info("ledger updated",
		zap.String("csv", csvPath),
		zap.Int("dues", len(rep.Dues)),
		zap.Int("payments", len(rep.Payments)),
		zap.Int("overdue", rep.Remind.Overdue),
		zap.Int("reminders_sent", rep.Remind.Sent),
		zap.Int("reminders_skipped", rep.Remind.Skipped),
		zap.Int("reminders_failed", rep.Remind.Failed),
	)
	fmt.Fprintln(cmd.OutOrStdout(), ledger.Table(rep.Rows).View(ui.DefaultStyles()))
	return finish(cmd, start, nil)
}

func scanPayments(ctx context.Context, person string) ([]mailfetch.Subject, error) {
	mb, err := openMailbox(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := mb.Logout(); err != nil {
			logger.Debug("logout failed", zap.Error(err))
		}
	}()
	return mailfetch.ScanSubjects(mb, person, cfg.Payments.SubjectPrefix)
}
