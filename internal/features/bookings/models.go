// Package bookings reads and updates the three payable resources: lesson
// bookings, handledar bookings and package purchases.
// models.go describes their rows together with the owner contact data
// joined from users.
package bookings

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/credits"
)

// Contact is where notifications about a resource go.
// UserID is nil for guest bookings.
type Contact struct {
	UserID *uuid.UUID
	Email  string
	Name   string
}

// Registered reports whether the contact is a user account.
func (c Contact) Registered() bool { return c.UserID != nil }

// Reachable reports whether there is an address to write to.
func (c Contact) Reachable() bool { return strings.TrimSpace(c.Email) != "" }

// LessonBooking is a single driving lesson (table bookings).
type LessonBooking struct {
	ID             uuid.UUID            `db:"id"`
	UserID         *uuid.UUID           `db:"user_id"`        // nil for guests
	LessonTypeID   *uuid.UUID           `db:"lesson_type_id"` // nil for legacy rows
	LessonTypeName string               `db:"lesson_type_name"`
	ScheduledDate  time.Time            `db:"scheduled_date"`
	StartTime      string               `db:"start_time"` // "HH:MM"
	TotalPrice     decimal.Decimal      `db:"total_price"`
	Status         common.BookingStatus `db:"status"`
	PaymentStatus  common.PaymentStatus `db:"payment_status"`
	PaymentMethod  *string              `db:"payment_method"`
	GuestName      *string              `db:"guest_name"`
	GuestEmail     *string              `db:"guest_email"`
	GuestPhone     *string              `db:"guest_phone"`
	UserEmail      *string              `db:"user_email"`
	UserFirstName  *string              `db:"user_first_name"`
	UserLastName   *string              `db:"user_last_name"`
	CreatedAt      time.Time            `db:"created_at"`
}

// Owner resolves the contact: the account email when registered, the guest
// fields otherwise.
func (b *LessonBooking) Owner() Contact {
	if b.UserID != nil {
		return Contact{
			UserID: b.UserID,
			Email:  deref(b.UserEmail),
			Name:   joinName(b.UserFirstName, b.UserLastName),
		}
	}
	return Contact{Email: deref(b.GuestEmail), Name: deref(b.GuestName)}
}

// HandledarBooking is a seat in a supervised group session
// (table handledar_bookings).
type HandledarBooking struct {
	ID               uuid.UUID            `db:"id"`
	SessionID        uuid.UUID            `db:"session_id"`
	StudentID        *uuid.UUID           `db:"student_id"` // nil for guests
	SupervisorName   *string              `db:"supervisor_name"`
	SupervisorEmail  *string              `db:"supervisor_email"`
	Price            decimal.Decimal      `db:"price"`
	Status           common.BookingStatus `db:"status"`
	PaymentStatus    common.PaymentStatus `db:"payment_status"`
	PaymentMethod    *string              `db:"payment_method"`
	SessionTitle     string               `db:"session_title"`
	SessionDate      time.Time            `db:"session_date"`
	StartTime        string               `db:"start_time"`
	StudentEmail     *string              `db:"student_email"`
	StudentFirstName *string              `db:"student_first_name"`
	StudentLastName  *string              `db:"student_last_name"`
	CreatedAt        time.Time            `db:"created_at"`
}

// Owner resolves the contact: the student's account email when present,
// else the supervisor's email given at booking time.
func (b *HandledarBooking) Owner() Contact {
	if b.StudentID != nil && deref(b.StudentEmail) != "" {
		return Contact{
			UserID: b.StudentID,
			Email:  deref(b.StudentEmail),
			Name:   joinName(b.StudentFirstName, b.StudentLastName),
		}
	}
	return Contact{
		UserID: b.StudentID,
		Email:  deref(b.SupervisorEmail),
		Name:   deref(b.SupervisorName),
	}
}

// PackagePurchase is an order for a credit package (table package_purchases).
type PackagePurchase struct {
	ID            uuid.UUID            `db:"id"`
	UserID        uuid.UUID            `db:"user_id"`
	PackageID     uuid.UUID            `db:"package_id"`
	PackageName   string               `db:"package_name"`
	PricePaid     decimal.Decimal      `db:"price_paid"`
	PaymentStatus common.PaymentStatus `db:"payment_status"`
	PaymentMethod *string              `db:"payment_method"`
	PurchaseDate  time.Time            `db:"purchase_date"`
	PaidAt        *time.Time           `db:"paid_at"`
	UserEmail     *string              `db:"user_email"`
	UserFirstName *string              `db:"user_first_name"`
	UserLastName  *string              `db:"user_last_name"`
}

// Owner returns the buyer's contact.
func (p *PackagePurchase) Owner() Contact {
	id := p.UserID
	return Contact{
		UserID: &id,
		Email:  deref(p.UserEmail),
		Name:   joinName(p.UserFirstName, p.UserLastName),
	}
}

// ContentLine is one entry of a package: N credits of one target.
type ContentLine struct {
	ID        uuid.UUID
	PackageID uuid.UUID
	Target    credits.Target
	Credits   int
	SortOrder int
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func joinName(first, last *string) string {
	return strings.TrimSpace(deref(first) + " " + deref(last))
}
