// Package bookings: repository.go holds the queries for bookings,
// handledar_bookings, package_purchases and package_contents.
// Loads used by the payment state machine lock the resource row
// (FOR UPDATE OF …) so the prior-state check and the write are atomic.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/db/postgres"
	"trafikskola.se/payments/internal/features/credits"
)

const lessonSelect = `
	SELECT b.id, b.user_id, b.lesson_type_id, COALESCE(lt.name, '') AS lesson_type_name,
	       b.scheduled_date, b.start_time, b.total_price, b.status, b.payment_status,
	       b.payment_method, b.guest_name, b.guest_email, b.guest_phone,
	       u.email AS user_email, u.first_name AS user_first_name, u.last_name AS user_last_name,
	       b.created_at
	FROM bookings b
	LEFT JOIN lesson_types lt ON lt.id = b.lesson_type_id
	LEFT JOIN users u ON u.id = b.user_id
`

const handledarSelect = `
	SELECT hb.id, hb.session_id, hb.student_id, hb.supervisor_name, hb.supervisor_email,
	       hb.price, hb.status, hb.payment_status, hb.payment_method,
	       hs.title AS session_title, hs.date AS session_date, hs.start_time,
	       u.email AS student_email, u.first_name AS student_first_name, u.last_name AS student_last_name,
	       hb.created_at
	FROM handledar_bookings hb
	JOIN handledar_sessions hs ON hs.id = hb.session_id
	LEFT JOIN users u ON u.id = hb.student_id
`

const purchaseSelect = `
	SELECT pp.id, pp.user_id, pp.package_id, p.name AS package_name, pp.price_paid,
	       pp.payment_status, pp.payment_method, pp.purchase_date, pp.paid_at,
	       u.email AS user_email, u.first_name AS user_first_name, u.last_name AS user_last_name
	FROM package_purchases pp
	JOIN packages p ON p.id = pp.package_id
	LEFT JOIN users u ON u.id = pp.user_id
`

// Repository works with the payable resource tables.
type Repository struct {
	db postgres.Querier
}

// NewRepository creates the bookings repository.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// GetLessonForUpdate loads a lesson booking and locks its row.
func (r *Repository) GetLessonForUpdate(ctx context.Context, id uuid.UUID) (*LessonBooking, error) {
	var b LessonBooking
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &b, lessonSelect+` WHERE b.id = $1 FOR UPDATE OF b`, id)
	if err != nil {
		return nil, notFoundOr(err, common.KindLesson, id)
	}
	return &b, nil
}

// GetHandledarForUpdate loads a handledar booking and locks its row.
func (r *Repository) GetHandledarForUpdate(ctx context.Context, id uuid.UUID) (*HandledarBooking, error) {
	var b HandledarBooking
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &b, handledarSelect+` WHERE hb.id = $1 FOR UPDATE OF hb`, id)
	if err != nil {
		return nil, notFoundOr(err, common.KindHandledar, id)
	}
	return &b, nil
}

// GetPurchaseForUpdate loads a package purchase and locks its row.
func (r *Repository) GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (*PackagePurchase, error) {
	var p PackagePurchase
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &p, purchaseSelect+` WHERE pp.id = $1 FOR UPDATE OF pp`, id)
	if err != nil {
		return nil, notFoundOr(err, common.KindPackage, id)
	}
	return &p, nil
}

type contentRow struct {
	ID                 uuid.UUID  `db:"id"`
	PackageID          uuid.UUID  `db:"package_id"`
	CreditType         string     `db:"credit_type"`
	LessonTypeID       *uuid.UUID `db:"lesson_type_id"`
	HandledarSessionID *uuid.UUID `db:"handledar_session_id"`
	Credits            int        `db:"credits"`
	SortOrder          int        `db:"sort_order"`
}

// PackageContents returns the content lines of a package in display order.
func (r *Repository) PackageContents(ctx context.Context, packageID uuid.UUID) ([]*ContentLine, error) {
	query := `
		SELECT id, package_id, credit_type, lesson_type_id, handledar_session_id, credits, sort_order
		FROM package_contents
		WHERE package_id = $1
		ORDER BY sort_order, id
	`
	var rows []*contentRow
	if err := pgxscan.Select(ctx, postgres.Conn(ctx, r.db), &rows, query, packageID); err != nil {
		return nil, fmt.Errorf("failed to load package contents: %w", err)
	}

	lines := make([]*ContentLine, 0, len(rows))
	for _, row := range rows {
		target, err := credits.TargetFromColumns(credits.CreditType(row.CreditType), row.LessonTypeID, row.HandledarSessionID)
		if err != nil {
			return nil, fmt.Errorf("package content %s: %w", row.ID, err)
		}
		lines = append(lines, &ContentLine{
			ID:        row.ID,
			PackageID: row.PackageID,
			Target:    target,
			Credits:   row.Credits,
			SortOrder: row.SortOrder,
		})
	}
	return lines, nil
}

// UpdateLessonPayment sets payment_status and status of a lesson booking.
func (r *Repository) UpdateLessonPayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, st common.BookingStatus) error {
	return r.execOne(ctx, common.KindLesson, id, `
		UPDATE bookings SET payment_status = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, id, string(ps), string(st))
}

// UpdateHandledarPayment sets payment_status and status of a handledar booking.
func (r *Repository) UpdateHandledarPayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, st common.BookingStatus) error {
	return r.execOne(ctx, common.KindHandledar, id, `
		UPDATE handledar_bookings SET payment_status = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, id, string(ps), string(st))
}

// UpdatePurchasePayment sets payment_status (and paid_at when given) of a
// package purchase.
func (r *Repository) UpdatePurchasePayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, paidAt *time.Time) error {
	return r.execOne(ctx, common.KindPackage, id, `
		UPDATE package_purchases SET payment_status = $2, paid_at = COALESCE($3, paid_at), updated_at = NOW()
		WHERE id = $1
	`, id, string(ps), paidAt)
}

// ListLessonsForUpdate loads lesson bookings with owner contact in one query,
// ordered like ids, and locks their rows. Unknown ids are skipped, and so
// are rows deleted by a transaction this one waited for.
func (r *Repository) ListLessonsForUpdate(ctx context.Context, ids []uuid.UUID) ([]*LessonBooking, error) {
	var out []*LessonBooking
	err := pgxscan.Select(ctx, postgres.Conn(ctx, r.db), &out,
		lessonSelect+` WHERE b.id = ANY($1) ORDER BY array_position($1::uuid[], b.id) FOR UPDATE OF b`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	return out, nil
}

// DeleteLessons deletes lesson bookings in one statement and returns how many
// rows went away.
func (r *Repository) DeleteLessons(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `DELETE FROM bookings WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete bookings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PendingPurchasesBefore returns ids of package purchases still pending that
// were placed before the cutoff.
func (r *Repository) PendingPurchasesBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := pgxscan.Select(ctx, postgres.Conn(ctx, r.db), &ids, `
		SELECT id FROM package_purchases
		WHERE payment_status = 'pending' AND purchase_date < $1
		ORDER BY purchase_date
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending purchases: %w", err)
	}
	return ids, nil
}

func (r *Repository) execOne(ctx context.Context, kind common.ResourceKind, id uuid.UUID, sql string, args ...any) error {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return common.WrapNotFound(kind, id)
	}
	return nil
}

func notFoundOr(err error, kind common.ResourceKind, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.WrapNotFound(kind, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}
