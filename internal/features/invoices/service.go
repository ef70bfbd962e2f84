// Package invoices: service.go is the invoice sequencer: numbering,
// idempotent creation per (resource, user) and the status sweeps.
package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/metrics"
)

// Store is what the sequencer needs from persistence.
type Store interface {
	LockPeriod(ctx context.Context, prefix string) error
	LastNumber(ctx context.Context, prefix string) (string, error)
	FindByResource(ctx context.Context, resourceID, userID uuid.UUID) (*Invoice, error)
	LoadDraft(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*Draft, error)
	Insert(ctx context.Context, inv *Invoice) error
	MarkPaid(ctx context.Context, resourceID, userID uuid.UUID, paidAt time.Time) (bool, error)
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*Invoice, error)
}

// TxRunner opens a unit of work, or joins the one already in ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service issues invoices.
type Service struct {
	store   Store
	tx      TxRunner
	dueDays int
	now     func() time.Time
}

// NewService creates the sequencer. dueDays is the payment term.
func NewService(store Store, tx TxRunner, dueDays int) *Service {
	return &Service{store: store, tx: tx, dueDays: dueDays, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// NextNumber allocates the next invoice number of the current month.
// Callers that go on to insert must do so in the same transaction, since the
// period lock is what keeps the number unique.
func (s *Service) NextNumber(ctx context.Context) (string, error) {
	var number string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		number, err = s.nextNumber(ctx, Prefix(s.now()))
		return err
	})
	return number, err
}

func (s *Service) nextNumber(ctx context.Context, prefix string) (string, error) {
	if err := s.store.LockPeriod(ctx, prefix); err != nil {
		return "", err
	}
	last, err := s.store.LastNumber(ctx, prefix)
	if err != nil {
		return "", err
	}
	counter, err := NextCounter(prefix, last)
	if err != nil {
		return "", err
	}
	return FormatNumber(prefix, counter), nil
}

// CreateForResource invoices a resource once. A second call for the same
// resource and user returns the existing invoice with Created=false.
//
// Errors:
//   - ResourceNotFoundError: the resource does not exist
//   - common.ErrGuestResource: the resource has no registered user
func (s *Service) CreateForResource(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*Result, error) {
	if !kind.Valid() {
		return nil, common.ErrInvalidArgument
	}

	var res *Result
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		draft, err := s.store.LoadDraft(ctx, kind, id)
		if err != nil {
			return err
		}
		if draft.UserID == nil {
			return common.ErrGuestResource
		}
		userID := *draft.UserID

		now := s.now()
		prefix := Prefix(now)
		// lock before the lookup: two callers for the same resource then
		// see each other's insert
		if err := s.store.LockPeriod(ctx, prefix); err != nil {
			return err
		}

		existing, err := s.store.FindByResource(ctx, id, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			res = &Result{Invoice: existing, Created: false}
			return nil
		}

		number, err := s.nextNumber(ctx, prefix)
		if err != nil {
			return err
		}

		inv := &Invoice{
			ID:            uuid.New(),
			InvoiceNumber: number,
			UserID:        userID,
			ResourceKind:  kind,
			ResourceID:    id,
			Amount:        draft.Amount,
			Status:        StatusPending,
			IssuedAt:      now,
			DueDate:       now.AddDate(0, 0, s.dueDays),
		}
		inv.Items = []*Item{{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Description: draft.Description,
			Quantity:    1,
			UnitPrice:   draft.Amount,
			TotalPrice:  draft.Amount,
		}}
		if err := s.store.Insert(ctx, inv); err != nil {
			return err
		}
		res = &Result{Invoice: inv, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveInvoice(res.Created)
	if res.Created {
		log.WithFields(log.Fields{
			"invoice_number": res.Invoice.InvoiceNumber,
			"kind":           kind,
			"resource_id":    id,
			"amount":         res.Invoice.Amount.StringFixed(2),
		}).Info("Invoice created")
	}
	return res, nil
}

// MarkPaidForResource marks the invoice of (resource, user) as paid, if any.
func (s *Service) MarkPaidForResource(ctx context.Context, resourceID, userID uuid.UUID) (bool, error) {
	return s.store.MarkPaid(ctx, resourceID, userID, s.now())
}

// MarkOverdue flips pending invoices past their due date. Run nightly.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	n, err := s.store.MarkOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.WithField("count", n).Info("Invoices marked overdue")
	}
	return n, nil
}

// Get returns an invoice with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.store.Get(ctx, id)
}
