// Package payments applies confirm / deny / remind decisions to the three
// payable resources. payable.go adapts each resource to one capability
// surface so the state machine in service.go is written once.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/credits"
)

// Store is what the state machine needs from the resource tables.
type Store interface {
	GetLessonForUpdate(ctx context.Context, id uuid.UUID) (*bookings.LessonBooking, error)
	GetHandledarForUpdate(ctx context.Context, id uuid.UUID) (*bookings.HandledarBooking, error)
	GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (*bookings.PackagePurchase, error)
	PackageContents(ctx context.Context, packageID uuid.UUID) ([]*bookings.ContentLine, error)
	UpdateLessonPayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, st common.BookingStatus) error
	UpdateHandledarPayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, st common.BookingStatus) error
	UpdatePurchasePayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, paidAt *time.Time) error
}

// Granter is the part of the credit ledger a confirmation uses.
type Granter interface {
	Grant(ctx context.Context, userID uuid.UUID, target credits.Target, amount int, opts credits.GrantOptions) (*credits.Record, error)
}

// Summary describes a resource for notifications and the link preview page.
type Summary struct {
	Kind          common.ResourceKind  `json:"kind"`
	ID            uuid.UUID            `json:"id"`
	Title         string               `json:"title"`
	When          string               `json:"when,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentStatus common.PaymentStatus `json:"paymentStatus"`
	OwnerName     string               `json:"ownerName,omitempty"`
}

// payable is the capability surface shared by the three resource kinds.
type payable interface {
	owner() bookings.Contact
	paymentStatus() common.PaymentStatus
	summary() Summary
	markPaid(ctx context.Context, s Store, now time.Time) error
	markFailed(ctx context.Context, s Store) error
	// onConfirm runs kind-specific side effects of a first confirmation
	// and returns the number of credits granted.
	onConfirm(ctx context.Context, s Store, ledger Granter) (int, error)
}

// load fetches and locks the resource. The returned error for a missing id
// is a ResourceNotFoundError of the right kind.
func load(ctx context.Context, s Store, kind common.ResourceKind, id uuid.UUID) (payable, error) {
	switch kind {
	case common.KindLesson:
		b, err := s.GetLessonForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		return lessonPayable{b}, nil
	case common.KindHandledar:
		b, err := s.GetHandledarForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		return handledarPayable{b}, nil
	case common.KindPackage:
		p, err := s.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		return purchasePayable{p}, nil
	}
	return nil, fmt.Errorf("resource kind %q: %w", kind, common.ErrInvalidArgument)
}

// ─── lesson booking ─────────────────────────────────────────────────────────

type lessonPayable struct{ b *bookings.LessonBooking }

func (p lessonPayable) owner() bookings.Contact             { return p.b.Owner() }
func (p lessonPayable) paymentStatus() common.PaymentStatus { return p.b.PaymentStatus }

func (p lessonPayable) summary() Summary {
	title := p.b.LessonTypeName
	if title == "" {
		title = "Körlektion"
	}
	return Summary{
		Kind:          common.KindLesson,
		ID:            p.b.ID,
		Title:         title,
		When:          common.FormatDate(p.b.ScheduledDate) + " " + p.b.StartTime,
		Amount:        p.b.TotalPrice,
		PaymentStatus: p.b.PaymentStatus,
		OwnerName:     p.b.Owner().Name,
	}
}

func (p lessonPayable) markPaid(ctx context.Context, s Store, _ time.Time) error {
	return s.UpdateLessonPayment(ctx, p.b.ID, common.PaymentPaid, common.BookingConfirmed)
}

func (p lessonPayable) markFailed(ctx context.Context, s Store) error {
	return s.UpdateLessonPayment(ctx, p.b.ID, common.PaymentFailed, common.BookingCancelled)
}

func (lessonPayable) onConfirm(context.Context, Store, Granter) (int, error) { return 0, nil }

// ─── handledar booking ─────────────────────────────────────────────────────

type handledarPayable struct{ b *bookings.HandledarBooking }

func (p handledarPayable) owner() bookings.Contact             { return p.b.Owner() }
func (p handledarPayable) paymentStatus() common.PaymentStatus { return p.b.PaymentStatus }

func (p handledarPayable) summary() Summary {
	return Summary{
		Kind:          common.KindHandledar,
		ID:            p.b.ID,
		Title:         p.b.SessionTitle,
		When:          common.FormatDate(p.b.SessionDate) + " " + p.b.StartTime,
		Amount:        p.b.Price,
		PaymentStatus: p.b.PaymentStatus,
		OwnerName:     p.b.Owner().Name,
	}
}

func (p handledarPayable) markPaid(ctx context.Context, s Store, _ time.Time) error {
	return s.UpdateHandledarPayment(ctx, p.b.ID, common.PaymentPaid, common.BookingConfirmed)
}

func (p handledarPayable) markFailed(ctx context.Context, s Store) error {
	return s.UpdateHandledarPayment(ctx, p.b.ID, common.PaymentFailed, common.BookingCancelled)
}

func (handledarPayable) onConfirm(context.Context, Store, Granter) (int, error) { return 0, nil }

// ─── package purchase ──────────────────────────────────────────────────────

type purchasePayable struct{ p *bookings.PackagePurchase }

func (p purchasePayable) owner() bookings.Contact             { return p.p.Owner() }
func (p purchasePayable) paymentStatus() common.PaymentStatus { return p.p.PaymentStatus }

func (p purchasePayable) summary() Summary {
	return Summary{
		Kind:          common.KindPackage,
		ID:            p.p.ID,
		Title:         p.p.PackageName,
		When:          common.FormatDate(p.p.PurchaseDate),
		Amount:        p.p.PricePaid,
		PaymentStatus: p.p.PaymentStatus,
		OwnerName:     p.p.Owner().Name,
	}
}

func (p purchasePayable) markPaid(ctx context.Context, s Store, now time.Time) error {
	return s.UpdatePurchasePayment(ctx, p.p.ID, common.PaymentPaid, &now)
}

func (p purchasePayable) markFailed(ctx context.Context, s Store) error {
	return s.UpdatePurchasePayment(ctx, p.p.ID, common.PaymentFailed, nil)
}

// onConfirm grants every content line of the package to the buyer, one
// ledger call per line. Zero-quantity lines are skipped.
// paid_at survives a deny, so a purchase confirmed again after being denied
// keeps the credits of its first confirmation and gets nothing new.
func (p purchasePayable) onConfirm(ctx context.Context, s Store, ledger Granter) (int, error) {
	if p.p.PaidAt != nil {
		return 0, nil
	}

	lines, err := s.PackageContents(ctx, p.p.PackageID)
	if err != nil {
		return 0, err
	}

	pkgID := p.p.PackageID
	granted := 0
	for _, line := range lines {
		if line.Credits <= 0 {
			continue
		}
		if _, err := ledger.Grant(ctx, p.p.UserID, line.Target, line.Credits, credits.GrantOptions{
			PackageID: &pkgID,
			Reason:    credits.ReasonPackage,
		}); err != nil {
			return granted, fmt.Errorf("package line %s: %w", line.ID, err)
		}
		granted += line.Credits
	}
	return granted, nil
}
