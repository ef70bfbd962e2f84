// Package credits: repository.go runs all queries against user_credits and
// credit_transactions. Every method works on the transaction carried by the
// context when there is one, so the ledger composes into callers' units of work.
package credits

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
)

const recordColumns = `id, user_id, credit_type, lesson_type_id, handledar_session_id,
	credits_remaining, credits_total, package_id, created_at, updated_at`

// recordRow is the scan shape of a user_credits row.
type recordRow struct {
	ID                 uuid.UUID  `db:"id"`
	UserID             uuid.UUID  `db:"user_id"`
	CreditType         string     `db:"credit_type"`
	LessonTypeID       *uuid.UUID `db:"lesson_type_id"`
	HandledarSessionID *uuid.UUID `db:"handledar_session_id"`
	CreditsRemaining   int        `db:"credits_remaining"`
	CreditsTotal       int        `db:"credits_total"`
	PackageID          *uuid.UUID `db:"package_id"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r *recordRow) toRecord() (*Record, error) {
	target, err := TargetFromColumns(CreditType(r.CreditType), r.LessonTypeID, r.HandledarSessionID)
	if err != nil {
		return nil, fmt.Errorf("credit record %s: %w", r.ID, err)
	}
	return &Record{
		ID:               r.ID,
		UserID:           r.UserID,
		Target:           target,
		CreditsRemaining: r.CreditsRemaining,
		CreditsTotal:     r.CreditsTotal,
		PackageID:        r.PackageID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

// Repository works with the credit tables.
type Repository struct {
	db postgres.Querier
}

// NewRepository creates the credit repository.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// Upsert adds amount to both counters of the (user, target) record, creating
// it with amount when it does not exist. A single INSERT … ON CONFLICT keeps
// concurrent grants to the same tuple from losing updates.
//
// Parameters:
//   - userID: credit owner
//   - target: lesson type or handledar session
//   - amount: credits to add (> 0, validated by the service)
//   - packageID: package that caused the grant, stored on first insert only
func (r *Repository) Upsert(ctx context.Context, userID uuid.UUID, target Target, amount int, packageID *uuid.UUID) (*Record, error) {
	lessonTypeID, sessionID := Columns(target)
	query := `
		INSERT INTO user_credits (id, user_id, credit_type, lesson_type_id, handledar_session_id,
			credits_remaining, credits_total, package_id)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (user_id, credit_type, lesson_type_id, handledar_session_id)
		DO UPDATE SET
			credits_remaining = user_credits.credits_remaining + EXCLUDED.credits_remaining,
			credits_total = user_credits.credits_total + EXCLUDED.credits_total,
			updated_at = NOW()
		RETURNING ` + recordColumns

	var row recordRow
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &row, query,
		uuid.New(), userID, string(target.Type()), lessonTypeID, sessionID, amount, packageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}
	return row.toRecord()
}

// GetForUpdate loads the (user, target) record and locks its row until the
// surrounding transaction ends. Returns common.ErrNoSuchCredit when missing.
func (r *Repository) GetForUpdate(ctx context.Context, userID uuid.UUID, target Target) (*Record, error) {
	lessonTypeID, sessionID := Columns(target)
	query := `
		SELECT ` + recordColumns + `
		FROM user_credits
		WHERE user_id = $1
		  AND credit_type = $2
		  AND lesson_type_id IS NOT DISTINCT FROM $3
		  AND handledar_session_id IS NOT DISTINCT FROM $4
		FOR UPDATE
	`
	var row recordRow
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &row, query,
		userID, string(target.Type()), lessonTypeID, sessionID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNoSuchCredit
		}
		return nil, fmt.Errorf("failed to load credits: %w", err)
	}
	return row.toRecord()
}

// Decrement lowers credits_remaining by amount. credits_total is untouched.
// The CHECK (credits_remaining >= 0) constraint is the last line of defence.
func (r *Repository) Decrement(ctx context.Context, id uuid.UUID, amount int) (*Record, error) {
	query := `
		UPDATE user_credits
		SET credits_remaining = credits_remaining - $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + recordColumns

	var row recordRow
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &row, query, id, amount)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return nil, common.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("failed to deduct credits: %w", err)
	}
	return row.toRecord()
}

// DeleteOwned removes a record only when it belongs to userID.
// Returns common.ErrCreditNotFound otherwise.
func (r *Repository) DeleteOwned(ctx context.Context, id, userID uuid.UUID) (*Record, error) {
	query := `DELETE FROM user_credits WHERE id = $1 AND user_id = $2 RETURNING ` + recordColumns

	var row recordRow
	err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &row, query, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrCreditNotFound
		}
		return nil, fmt.Errorf("failed to remove credits: %w", err)
	}
	return row.toRecord()
}

// ListByUser returns all credit records of a user, lessons first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM user_credits
		WHERE user_id = $1
		ORDER BY credit_type DESC, created_at
	`
	var rows []*recordRow
	if err := pgxscan.Select(ctx, postgres.Conn(ctx, r.db), &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}

	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LogTransaction appends one movement to the audit trail.
func (r *Repository) LogTransaction(ctx context.Context, userID uuid.UUID, target Target, delta int, reason Reason) error {
	lessonTypeID, sessionID := Columns(target)
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, credit_type, lesson_type_id, handledar_session_id, delta, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, string(target.Type()), lessonTypeID, sessionID, delta, string(reason))
	if err != nil {
		return fmt.Errorf("failed to record credit transaction: %w", err)
	}
	return nil
}

// transactionRow is the scan shape of a credit_transactions row.
type transactionRow struct {
	ID                 uuid.UUID  `db:"id"`
	UserID             uuid.UUID  `db:"user_id"`
	CreditType         string     `db:"credit_type"`
	LessonTypeID       *uuid.UUID `db:"lesson_type_id"`
	HandledarSessionID *uuid.UUID `db:"handledar_session_id"`
	Delta              int        `db:"delta"`
	Reason             string     `db:"reason"`
	CreatedAt          time.Time  `db:"created_at"`
}

// RecentTransactions returns the last limit audit rows of a user, newest first.
func (r *Repository) RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, user_id, credit_type, lesson_type_id, handledar_session_id, delta, reason, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []*transactionRow
	if err := pgxscan.Select(ctx, postgres.Conn(ctx, r.db), &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}

	out := make([]*Transaction, 0, len(rows))
	for _, row := range rows {
		target, err := TargetFromColumns(CreditType(row.CreditType), row.LessonTypeID, row.HandledarSessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, &Transaction{
			ID:        row.ID,
			UserID:    row.UserID,
			Target:    target,
			Delta:     row.Delta,
			Reason:    Reason(row.Reason),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
