// Package jobs runs the background sweeps (cron).
// scheduler.go sets up the schedule: a nightly overdue-invoice sweep and
// hourly payment reminders for package purchases left pending.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/payments"
)

// InvoiceSweeper marks pending invoices past their due date.
type InvoiceSweeper interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// PendingLister finds package purchases still waiting for payment.
type PendingLister interface {
	PendingPurchasesBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// Reminder applies a decision; the scheduler only ever asks for reminders.
type Reminder interface {
	Apply(ctx context.Context, kind common.ResourceKind, id uuid.UUID, decision common.Decision) (*payments.Outcome, error)
}

// Scheduler runs the background jobs.
type Scheduler struct {
	cron     *cron.Cron
	invoices InvoiceSweeper
	pending  PendingLister
	reminder Reminder
	after    time.Duration
	now      func() time.Time
}

// NewScheduler creates the scheduler in Swedish time. remindAfter is how
// old a pending purchase must be before it gets a reminder.
func NewScheduler(invoices InvoiceSweeper, pending PendingLister, reminder Reminder, remindAfter time.Duration) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(common.Stockholm())),
		invoices: invoices,
		pending:  pending,
		reminder: reminder,
		after:    remindAfter,
		now:      time.Now,
	}
}

// Start schedules every job.
func (s *Scheduler) Start(ctx context.Context) error {
	// Overdue sweep at 01:00 Swedish time
	if _, err := s.cron.AddFunc("0 1 * * *", func() {
		log.Info("[CRON] Overdue invoice sweep")
		if _, err := s.SweepOverdue(ctx); err != nil {
			log.WithError(err).Error("[CRON] Overdue sweep failed")
		}
	}); err != nil {
		return err
	}

	// Reminders every hour, during the day only
	if _, err := s.cron.AddFunc("0 8-20 * * *", func() {
		log.Debug("[CRON] Pending purchase reminders")
		if _, err := s.SendReminders(ctx); err != nil {
			log.WithError(err).Error("[CRON] Reminders failed")
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Info("Scheduler started (Europe/Stockholm)")
	return nil
}

// Stop waits for running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Scheduler stopped")
}

// SweepOverdue marks overdue invoices and returns how many changed.
func (s *Scheduler) SweepOverdue(ctx context.Context) (int, error) {
	n, err := s.invoices.MarkOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.WithField("count", n).Info("Invoices marked overdue")
	}
	return n, nil
}

// SendReminders sends one reminder per purchase pending for longer than
// remindAfter. A failing purchase does not stop the others.
func (s *Scheduler) SendReminders(ctx context.Context) (int, error) {
	ids, err := s.pending.PendingPurchasesBefore(ctx, s.now().Add(-s.after))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		out, err := s.reminder.Apply(ctx, common.KindPackage, id, common.DecisionRemind)
		if err != nil {
			log.WithError(err).WithField("purchase_id", id).Warn("Reminder failed")
			continue
		}
		sent += out.NotificationsSent
	}
	log.WithFields(log.Fields{"pending": len(ids), "sent": sent}).Debug("Reminders done")
	return sent, nil
}
