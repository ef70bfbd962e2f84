package credits

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

var recordCols = []string{
	"id", "user_id", "credit_type", "lesson_type_id", "handledar_session_id",
	"credits_remaining", "credits_total", "package_id", "created_at", "updated_at",
}

func TestRepository_Upsert(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewRepository(mockPool)
	id, user, lt := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mockPool.ExpectQuery(`INSERT INTO user_credits .* ON CONFLICT \(user_id, credit_type, lesson_type_id, handledar_session_id\)`).
		WithArgs(pgxmock.AnyArg(), user, "lesson", &lt, (*uuid.UUID)(nil), 5, (*uuid.UUID)(nil)).
		WillReturnRows(pgxmock.NewRows(recordCols).
			AddRow(id, user, "lesson", &lt, (*uuid.UUID)(nil), 7, 9, (*uuid.UUID)(nil), now, now))

	rec, err := repo.Upsert(context.Background(), user, Lesson(lt), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, Lesson(lt), rec.Target)
	assert.Equal(t, 7, rec.CreditsRemaining)
	assert.Equal(t, 9, rec.CreditsTotal)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepository_GetForUpdate_Missing(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewRepository(mockPool)
	user := uuid.New()

	mockPool.ExpectQuery(`SELECT .* FROM user_credits .* FOR UPDATE`).
		WithArgs(user, "handledar", (*uuid.UUID)(nil), (*uuid.UUID)(nil)).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetForUpdate(context.Background(), user, AnyHandledar())
	assert.ErrorIs(t, err, common.ErrNoSuchCredit)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepository_Decrement_CheckViolation(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewRepository(mockPool)
	id := uuid.New()

	mockPool.ExpectQuery(`UPDATE user_credits`).
		WithArgs(id, 3).
		WillReturnError(&pgconn.PgError{Code: "23514"})

	_, err = repo.Decrement(context.Background(), id, 3)
	assert.ErrorIs(t, err, common.ErrInsufficientCredits)
}

func TestRepository_LogTransaction(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewRepository(mockPool)
	user, session := uuid.New(), uuid.New()

	mockPool.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(pgxmock.AnyArg(), user, "handledar", (*uuid.UUID)(nil), &session, -1, "deduct").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.LogTransaction(context.Background(), user, Handledar(session), -1, ReasonDeduct))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestTargetColumnsRoundTrip(t *testing.T) {
	id := uuid.New()
	for _, target := range []Target{Lesson(id), Handledar(id), AnyHandledar()} {
		lt, hs := Columns(target)
		back, err := TargetFromColumns(target.Type(), lt, hs)
		require.NoError(t, err)
		assert.Equal(t, target, back)
	}

	_, err := TargetFromColumns(TypeLesson, nil, nil)
	assert.Error(t, err)
	_, err = TargetFromColumns("theory", nil, nil)
	assert.Error(t, err)
}
