package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/invoices"
)

// LockPeriod is a no-op: InTx already serializes everything.
func (s *Store) LockPeriod(ctx context.Context, _ string) error {
	defer s.lock(ctx)()
	return s.check("LockPeriod")
}

func (s *Store) LastNumber(ctx context.Context, prefix string) (string, error) {
	defer s.lock(ctx)()
	last := ""
	for _, inv := range s.d.invoices {
		n := inv.InvoiceNumber
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		if len(n) > len(last) || (len(n) == len(last) && n > last) {
			last = n
		}
	}
	return last, nil
}

func (s *Store) FindByResource(ctx context.Context, resourceID, userID uuid.UUID) (*invoices.Invoice, error) {
	defer s.lock(ctx)()
	for _, inv := range s.d.invoices {
		if inv.ResourceID == resourceID && inv.UserID == userID {
			return &inv, nil
		}
	}
	return nil, nil
}

func (s *Store) LoadDraft(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*invoices.Draft, error) {
	defer s.lock(ctx)()

	switch kind {
	case common.KindLesson:
		b, ok := s.d.lessons[id]
		if !ok {
			return nil, common.WrapNotFound(kind, id)
		}
		v := s.lessonView(b)
		name := v.LessonTypeName
		if name == "" {
			name = "Körlektion"
		}
		return &invoices.Draft{
			Kind: kind, ResourceID: id, UserID: b.UserID, Amount: b.TotalPrice,
			Description: invoices.Describe(kind, name, b.ScheduledDate, b.StartTime),
		}, nil
	case common.KindHandledar:
		b, ok := s.d.handledar[id]
		if !ok {
			return nil, common.WrapNotFound(kind, id)
		}
		v := s.handledarView(b)
		return &invoices.Draft{
			Kind: kind, ResourceID: id, UserID: b.StudentID, Amount: b.Price,
			Description: invoices.Describe(kind, v.SessionTitle, v.SessionDate, v.StartTime),
		}, nil
	case common.KindPackage:
		p, ok := s.d.purchases[id]
		if !ok {
			return nil, common.WrapNotFound(kind, id)
		}
		uid := p.UserID
		return &invoices.Draft{
			Kind: kind, ResourceID: id, UserID: &uid, Amount: p.PricePaid,
			Description: invoices.Describe(kind, s.d.packages[p.PackageID].Name, p.PurchaseDate, ""),
		}, nil
	}
	return nil, fmt.Errorf("resource kind %q: %w", kind, common.ErrInvalidArgument)
}

// Insert enforces both unique constraints of invoices.
func (s *Store) Insert(ctx context.Context, inv *invoices.Invoice) error {
	defer s.lock(ctx)()
	if err := s.check("Insert"); err != nil {
		return err
	}
	for _, other := range s.d.invoices {
		if other.InvoiceNumber == inv.InvoiceNumber {
			return fmt.Errorf("invoice number %s: %w", inv.InvoiceNumber, common.ErrDuplicate)
		}
		if other.ResourceID == inv.ResourceID && other.UserID == inv.UserID {
			return fmt.Errorf("invoice for resource %s: %w", inv.ResourceID, common.ErrDuplicate)
		}
	}
	s.d.invoices[inv.ID] = *inv
	return nil
}

func (s *Store) MarkPaid(ctx context.Context, resourceID, userID uuid.UUID, paidAt time.Time) (bool, error) {
	defer s.lock(ctx)()
	for id, inv := range s.d.invoices {
		if inv.ResourceID == resourceID && inv.UserID == userID && inv.Status.Payable() {
			inv.Status = invoices.StatusPaid
			t := paidAt
			inv.PaidAt = &t
			s.d.invoices[id] = inv
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for id, inv := range s.d.invoices {
		if inv.Status == invoices.StatusPending && inv.DueDate.Before(now) {
			inv.Status = invoices.StatusOverdue
			s.d.invoices[id] = inv
			n++
		}
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*invoices.Invoice, error) {
	defer s.lock(ctx)()
	inv, ok := s.d.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	return &inv, nil
}
