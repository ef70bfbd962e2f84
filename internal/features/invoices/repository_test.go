package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafikskola.se/payments/internal/common"
)

func TestRepository_LockPeriod(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("invoice:202603").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, NewRepository(mockPool).LockPeriod(context.Background(), "202603"))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepository_LastNumber(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewRepository(mockPool)

	mockPool.ExpectQuery(`SELECT invoice_number FROM invoices .* ORDER BY LENGTH\(invoice_number\) DESC, invoice_number DESC`).
		WithArgs("202603").
		WillReturnRows(pgxmock.NewRows([]string{"invoice_number"}).AddRow("2026030042"))
	mockPool.ExpectQuery(`SELECT invoice_number FROM invoices`).
		WithArgs("202604").
		WillReturnError(pgx.ErrNoRows)

	last, err := repo.LastNumber(context.Background(), "202603")
	require.NoError(t, err)
	assert.Equal(t, "2026030042", last)

	last, err = repo.LastNumber(context.Background(), "202604")
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestRepository_MarkOverdue(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	now := time.Now()
	mockPool.ExpectExec(`UPDATE invoices SET status = 'overdue'`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := NewRepository(mockPool).MarkOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRepository_LoadDraft_UnknownKind(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	_, err = NewRepository(mockPool).LoadDraft(context.Background(), "gift_card", uuid.New())
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestNumbering(t *testing.T) {
	tests := []struct {
		name   string
		last   string
		want   string
		hasErr bool
	}{
		{"empty period", "", "2026030001", false},
		{"next", "2026030041", "2026030042", false},
		{"widens past 9999", "2026039999", "20260310000", false},
		{"after widening", "20260310000", "20260310001", false},
		{"foreign period", "2026020007", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NextCounter("202603", tt.last)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatNumber("202603", n))
		})
	}
}

func TestPrefix_UsesSwedishTime(t *testing.T) {
	// 23:30 UTC on the last of March is already April in Stockholm
	utc := time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "202604", Prefix(utc))
}

func TestRepository_MarkPaid_OnlyPendingOrOverdue(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	resource, user := uuid.New(), uuid.New()
	now := time.Now()
	mockPool.ExpectExec(`UPDATE invoices SET status = 'paid', paid_at = \$3 WHERE resource_id = \$1 AND user_id = \$2 AND status IN \('pending', 'overdue'\)`).
		WithArgs(resource, user, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewRepository(mockPool).MarkPaid(context.Background(), resource, user, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepository_Insert_DuplicateIsConflict(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	inv := &Invoice{ID: uuid.New(), InvoiceNumber: "F-202603-0001", UserID: uuid.New(), ResourceID: uuid.New(),
		ResourceKind: common.KindLesson, Status: StatusPending}
	mockPool.ExpectExec(`INSERT INTO invoices`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "invoices_resource_id_user_id_key"})

	err = NewRepository(mockPool).Insert(context.Background(), inv)
	assert.ErrorIs(t, err, common.ErrDuplicate)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
