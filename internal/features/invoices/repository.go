// Package invoices: repository.go holds the queries for invoices and
// invoice_items, the per-period advisory lock and the resource lookups
// that feed an invoice draft.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/db/postgres"
)

const invoiceColumns = `
	id, invoice_number, user_id, resource_kind, resource_id, amount, status,
	issued_at, due_date, paid_at
`

// Repository works with the invoices tables.
type Repository struct {
	db postgres.Querier
}

// NewRepository creates the invoices repository.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// LockPeriod takes the transaction-scoped advisory lock of a numbering
// period. It is released on commit or rollback, so it must run in a tx.
func (r *Repository) LockPeriod(ctx context.Context, prefix string) error {
	if _, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, "invoice:"+prefix); err != nil {
		return fmt.Errorf("failed to lock invoice period %s: %w", prefix, err)
	}
	return nil
}

// LastNumber returns the highest invoice number of the period, or "" when
// the period is empty. Longer numbers sort first so that a widened counter
// (YYYYMM10000) wins over YYYYMM9999.
func (r *Repository) LastNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT invoice_number FROM invoices
		WHERE invoice_number LIKE $1 || '%'
		ORDER BY LENGTH(invoice_number) DESC, invoice_number DESC
		LIMIT 1
	`, prefix).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last invoice number: %w", err)
	}
	return number, nil
}

// FindByResource returns the invoice of (resource, user) or nil.
func (r *Repository) FindByResource(ctx context.Context, resourceID, userID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &inv,
		`SELECT `+invoiceColumns+` FROM invoices WHERE resource_id = $1 AND user_id = $2`, resourceID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice for %s: %w", resourceID, err)
	}
	return &inv, nil
}

type draftRow struct {
	UserID    *uuid.UUID      `db:"user_id"`
	Name      string          `db:"name"`
	Date      time.Time       `db:"date"`
	StartTime string          `db:"start_time"`
	Amount    decimal.Decimal `db:"amount"`
}

var draftQueries = map[common.ResourceKind]string{
	common.KindLesson: `
		SELECT b.user_id, COALESCE(lt.name, 'Körlektion') AS name, b.scheduled_date AS date,
		       b.start_time, b.total_price AS amount
		FROM bookings b
		LEFT JOIN lesson_types lt ON lt.id = b.lesson_type_id
		WHERE b.id = $1`,
	common.KindHandledar: `
		SELECT hb.student_id AS user_id, hs.title AS name, hs.date, hs.start_time, hb.price AS amount
		FROM handledar_bookings hb
		JOIN handledar_sessions hs ON hs.id = hb.session_id
		WHERE hb.id = $1`,
	common.KindPackage: `
		SELECT pp.user_id, p.name, pp.purchase_date AS date, '' AS start_time, pp.price_paid AS amount
		FROM package_purchases pp
		JOIN packages p ON p.id = pp.package_id
		WHERE pp.id = $1`,
}

// LoadDraft reads the data an invoice for the resource needs.
func (r *Repository) LoadDraft(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*Draft, error) {
	query, ok := draftQueries[kind]
	if !ok {
		return nil, fmt.Errorf("resource kind %q: %w", kind, common.ErrInvalidArgument)
	}

	var row draftRow
	if err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.WrapNotFound(kind, id)
		}
		return nil, fmt.Errorf("failed to load %s %s for invoicing: %w", kind, id, err)
	}

	return &Draft{
		Kind:        kind,
		ResourceID:  id,
		UserID:      row.UserID,
		Description: Describe(kind, row.Name, row.Date, row.StartTime),
		Amount:      row.Amount,
	}, nil
}

// Insert stores the invoice and its items.
func (r *Repository) Insert(ctx context.Context, inv *Invoice) error {
	conn := postgres.Conn(ctx, r.db)

	_, err := conn.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, inv.ID, inv.InvoiceNumber, inv.UserID, string(inv.ResourceKind), inv.ResourceID,
		inv.Amount, string(inv.Status), inv.IssuedAt, inv.DueDate, inv.PaidAt)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("invoice %s for %s: %w", inv.InvoiceNumber, inv.ResourceID, common.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.InvoiceNumber, err)
	}

	for _, it := range inv.Items {
		_, err := conn.Exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, it.ID, inv.ID, it.Description, it.Quantity, it.UnitPrice, it.TotalPrice)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}
	return nil
}

// MarkPaid sets a pending or overdue invoice of (resource, user) to paid.
// Returns false when there was nothing to update.
func (r *Repository) MarkPaid(ctx context.Context, resourceID, userID uuid.UUID, paidAt time.Time) (bool, error) {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = $3
		WHERE resource_id = $1 AND user_id = $2 AND status IN ('pending', 'overdue')
	`, resourceID, userID, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkOverdue flips pending invoices whose due date has passed.
func (r *Repository) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		UPDATE invoices SET status = 'overdue'
		WHERE status = 'pending' AND due_date < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get loads an invoice with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	conn := postgres.Conn(ctx, r.db)

	var inv Invoice
	if err := pgxscan.Get(ctx, conn, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load invoice %s: %w", id, err)
	}

	if err := pgxscan.Select(ctx, conn, &inv.Items, `
		SELECT id, invoice_id, description, quantity, unit_price, total_price
		FROM invoice_items WHERE invoice_id = $1 ORDER BY id
	`, id); err != nil {
		return nil, fmt.Errorf("failed to load invoice items: %w", err)
	}
	return &inv, nil
}

// Describe builds the item text of an invoice.
func Describe(kind common.ResourceKind, name string, date time.Time, startTime string) string {
	switch kind {
	case common.KindPackage:
		return "Paket: " + name
	case common.KindHandledar:
		return fmt.Sprintf("Handledarutbildning: %s %s %s", name, common.FormatDate(date), startTime)
	default:
		return fmt.Sprintf("Körlektion: %s %s %s", name, common.FormatDate(date), startTime)
	}
}
