// Package invoices numbers and stores invoices for paid resources.
// Numbers look like YYYYMMNNNN: the issue month followed by a per-month
// counter, zero-padded to four digits.
package invoices

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trafikskola.se/payments/internal/common"
)

// Status of an invoice.
type Status string

const (
	StatusPending   Status = "pending" // issued, waiting for payment
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error" // sending or booking the invoice failed
)

// Payable reports whether a payment can still settle the invoice.
func (s Status) Payable() bool {
	return s == StatusPending || s == StatusOverdue
}

// Invoice is one row of invoices with its items.
type Invoice struct {
	ID            uuid.UUID           `db:"id"`
	InvoiceNumber string              `db:"invoice_number"`
	UserID        uuid.UUID           `db:"user_id"`
	ResourceKind  common.ResourceKind `db:"resource_kind"`
	ResourceID    uuid.UUID           `db:"resource_id"`
	Amount        decimal.Decimal     `db:"amount"`
	Status        Status              `db:"status"`
	IssuedAt      time.Time           `db:"issued_at"`
	DueDate       time.Time           `db:"due_date"`
	PaidAt        *time.Time          `db:"paid_at"`
	Items         []*Item             `db:"-"`
}

// Item is one invoice line.
type Item struct {
	ID          uuid.UUID       `db:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id"`
	Description string          `db:"description"`
	Quantity    int             `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	TotalPrice  decimal.Decimal `db:"total_price"`
}

// Draft is what a resource contributes to its invoice.
// UserID is nil for guest resources, which cannot be invoiced.
type Draft struct {
	Kind        common.ResourceKind
	ResourceID  uuid.UUID
	UserID      *uuid.UUID
	Description string
	Amount      decimal.Decimal
}

// Result of CreateForResource. Created is false when the invoice already
// existed for the resource and user.
type Result struct {
	Invoice *Invoice
	Created bool
}

// Prefix returns the numbering period of t, in Swedish time.
func Prefix(t time.Time) string {
	return t.In(common.Stockholm()).Format("200601")
}

// FormatNumber joins prefix and counter. Counters past 9999 widen the
// number instead of wrapping.
func FormatNumber(prefix string, counter int) string {
	return fmt.Sprintf("%s%04d", prefix, counter)
}

// NextCounter returns the counter following last, or 1 when the period has
// no invoices yet.
func NextCounter(prefix, last string) (int, error) {
	if last == "" {
		return 1, nil
	}
	rest, ok := strings.CutPrefix(last, prefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("invoice number %q does not belong to period %s", last, prefix)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invoice number %q has no counter: %w", last, err)
	}
	return n + 1, nil
}
