// Package credits: service.go is the credit ledger: grant, reimburse,
// deduct and remove, each as one read-then-write inside a transaction.
package credits

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/metrics"
)

// Store is what the ledger needs from persistence.
type Store interface {
	Upsert(ctx context.Context, userID uuid.UUID, target Target, amount int, packageID *uuid.UUID) (*Record, error)
	GetForUpdate(ctx context.Context, userID uuid.UUID, target Target) (*Record, error)
	Decrement(ctx context.Context, id uuid.UUID, amount int) (*Record, error)
	DeleteOwned(ctx context.Context, id, userID uuid.UUID) (*Record, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Record, error)
	LogTransaction(ctx context.Context, userID uuid.UUID, target Target, delta int, reason Reason) error
	RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error)
}

// TxRunner opens a unit of work, or joins the one already in ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger owns per-user credit balances. It sends no notifications;
// callers decide what to tell the user.
type Ledger struct {
	store Store
	tx    TxRunner
}

// NewLedger creates the credit ledger.
func NewLedger(store Store, tx TxRunner) *Ledger {
	return &Ledger{store: store, tx: tx}
}

// Grant adds amount credits to the (user, target) record, creating it when
// missing. When ctx carries a transaction the grant becomes part of it.
// Every call adds: a retried webhook that grants twice doubles the balance,
// deduplication belongs to the caller.
func (l *Ledger) Grant(ctx context.Context, userID uuid.UUID, target Target, amount int, opts GrantOptions) (*Record, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if target == nil || userID == uuid.Nil {
		return nil, common.ErrInvalidArgument
	}
	reason := opts.Reason
	if reason == "" {
		reason = ReasonGrant
	}

	var rec *Record
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = l.store.Upsert(ctx, userID, target, amount, opts.PackageID)
		if err != nil {
			return err
		}
		return l.store.LogTransaction(ctx, userID, target, amount, reason)
	})
	metrics.ObserveLedger(string(reason), err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"target":    target.String(),
		"amount":    amount,
		"reason":    reason,
		"remaining": rec.CreditsRemaining,
	}).Info("Credits granted")
	return rec, nil
}

// Reimburse gives back one lesson credit for an administratively cancelled
// lesson booking.
func (l *Ledger) Reimburse(ctx context.Context, userID, lessonTypeID uuid.UUID) (*Record, error) {
	return l.Grant(ctx, userID, Lesson(lessonTypeID), 1, GrantOptions{Reason: ReasonReimburse})
}

// Deduct spends amount credits. The row is locked before the balance check so
// concurrent deductions cannot both pass it.
//
// Errors:
//   - common.ErrNoSuchCredit: the user has no record for the target
//   - common.ErrInsufficientCredits: remaining < amount, nothing changes
func (l *Ledger) Deduct(ctx context.Context, userID uuid.UUID, target Target, amount int) (*Record, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if target == nil || userID == uuid.Nil {
		return nil, common.ErrInvalidArgument
	}

	var rec *Record
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := l.store.GetForUpdate(ctx, userID, target)
		if err != nil {
			return err
		}
		if current.CreditsRemaining-amount < 0 {
			return common.ErrInsufficientCredits
		}

		rec, err = l.store.Decrement(ctx, current.ID, amount)
		if err != nil {
			return err
		}
		return l.store.LogTransaction(ctx, userID, target, -amount, ReasonDeduct)
	})
	metrics.ObserveLedger(string(ReasonDeduct), err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"target":    target.String(),
		"amount":    amount,
		"remaining": rec.CreditsRemaining,
	}).Info("Credits deducted")
	return rec, nil
}

// RemoveAll deletes a credit record outright. Ownership is mandatory: a
// record of another user is reported as common.ErrCreditNotFound.
func (l *Ledger) RemoveAll(ctx context.Context, recordID, userID uuid.UUID) error {
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		rec, err := l.store.DeleteOwned(ctx, recordID, userID)
		if err != nil {
			return err
		}
		if rec.CreditsRemaining == 0 {
			return nil
		}
		return l.store.LogTransaction(ctx, userID, rec.Target, -rec.CreditsRemaining, ReasonRemove)
	})
	metrics.ObserveLedger(string(ReasonRemove), err)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"record_id": recordID,
	}).Info("Credit record removed")
	return nil
}

// Balances returns every credit record of the user.
func (l *Ledger) Balances(ctx context.Context, userID uuid.UUID) ([]*Record, error) {
	return l.store.ListByUser(ctx, userID)
}

// History returns the last 50 ledger movements of the user.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID) ([]*Transaction, error) {
	return l.store.RecentTransactions(ctx, userID, 50)
}
