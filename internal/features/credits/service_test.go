package credits_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/credits"
	"trafikskola.se/payments/internal/store/memory"
)

func newLedger() (*credits.Ledger, *memory.Store) {
	store := memory.New()
	return credits.NewLedger(store, store), store
}

func TestGrant_CreatesThenIncrements(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	user, lt := uuid.New(), uuid.New()

	rec, err := ledger.Grant(ctx, user, credits.Lesson(lt), 3, credits.GrantOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.CreditsRemaining)
	assert.Equal(t, 3, rec.CreditsTotal)

	again, err := ledger.Grant(ctx, user, credits.Lesson(lt), 2, credits.GrantOptions{})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, 5, again.CreditsRemaining)
	assert.Equal(t, 5, again.CreditsTotal)
}

func TestGrant_RejectsNonPositive(t *testing.T) {
	ledger, store := newLedger()
	user := uuid.New()

	for _, n := range []int{0, -1} {
		_, err := ledger.Grant(context.Background(), user, credits.AnyHandledar(), n, credits.GrantOptions{})
		assert.ErrorIs(t, err, common.ErrInvalidAmount)
	}
	assert.Empty(t, store.Credits(user))
}

func TestGrant_TargetsAreDistinct(t *testing.T) {
	ledger, store := newLedger()
	ctx := context.Background()
	user, session := uuid.New(), uuid.New()

	_, err := ledger.Grant(ctx, user, credits.AnyHandledar(), 1, credits.GrantOptions{})
	require.NoError(t, err)
	_, err = ledger.Grant(ctx, user, credits.Handledar(session), 1, credits.GrantOptions{})
	require.NoError(t, err)
	_, err = ledger.Grant(ctx, user, credits.AnyHandledar(), 1, credits.GrantOptions{})
	require.NoError(t, err)

	recs := store.Credits(user)
	require.Len(t, recs, 2)
	byTarget := map[string]int{}
	for _, r := range recs {
		byTarget[r.Target.String()] = r.CreditsRemaining
	}
	assert.Equal(t, 2, byTarget["handledar:any"])
	assert.Equal(t, 1, byTarget["handledar:"+session.String()])
}

func TestDeduct_Errors(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	user, lt := uuid.New(), uuid.New()

	_, err := ledger.Deduct(ctx, user, credits.Lesson(lt), 1)
	assert.ErrorIs(t, err, common.ErrNoSuchCredit)

	_, err = ledger.Grant(ctx, user, credits.Lesson(lt), 2, credits.GrantOptions{})
	require.NoError(t, err)

	_, err = ledger.Deduct(ctx, user, credits.Lesson(lt), 3)
	assert.ErrorIs(t, err, common.ErrInsufficientCredits)

	rec, err := ledger.Deduct(ctx, user, credits.Lesson(lt), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CreditsRemaining)
	assert.Equal(t, 2, rec.CreditsTotal)
}

func TestLedger_BalanceInvariant(t *testing.T) {
	ledger, store := newLedger()
	ctx := context.Background()
	user, lt := uuid.New(), uuid.New()
	target := credits.Lesson(lt)
	rng := rand.New(rand.NewSource(42))

	granted, deducted := 0, 0
	for range 500 {
		n := rng.Intn(5) + 1
		if rng.Intn(2) == 0 {
			_, err := ledger.Grant(ctx, user, target, n, credits.GrantOptions{})
			require.NoError(t, err)
			granted += n
			continue
		}
		_, err := ledger.Deduct(ctx, user, target, n)
		switch {
		case err == nil:
			deducted += n
		case errors.Is(err, common.ErrInsufficientCredits), errors.Is(err, common.ErrNoSuchCredit):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
		for _, r := range store.Credits(user) {
			require.GreaterOrEqual(t, r.CreditsRemaining, 0)
		}
	}

	recs := store.Credits(user)
	require.Len(t, recs, 1)
	assert.Equal(t, granted-deducted, recs[0].CreditsRemaining)
	assert.Equal(t, granted, recs[0].CreditsTotal)
}

func TestDeduct_ConcurrentNeverOverspends(t *testing.T) {
	ledger, store := newLedger()
	ctx := context.Background()
	user, lt := uuid.New(), uuid.New()

	_, err := ledger.Grant(ctx, user, credits.Lesson(lt), 10, credits.GrantOptions{})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Deduct(ctx, user, credits.Lesson(lt), 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 0, store.Credits(user)[0].CreditsRemaining)
}

func TestGrant_JoinsCallerTransaction(t *testing.T) {
	ledger, store := newLedger()
	user, lt := uuid.New(), uuid.New()
	boom := errors.New("later step failed")

	err := store.InTx(context.Background(), func(ctx context.Context) error {
		if _, err := ledger.Grant(ctx, user, credits.Lesson(lt), 5, credits.GrantOptions{}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.Credits(user))
	assert.Empty(t, store.CreditLog())
}

func TestGrant_AuditTrail(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	user, lt := uuid.New(), uuid.New()

	_, err := ledger.Grant(ctx, user, credits.Lesson(lt), 4, credits.GrantOptions{})
	require.NoError(t, err)
	_, err = ledger.Reimburse(ctx, user, lt)
	require.NoError(t, err)
	_, err = ledger.Deduct(ctx, user, credits.Lesson(lt), 2)
	require.NoError(t, err)

	history, err := ledger.History(ctx, user)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, credits.ReasonDeduct, history[0].Reason)
	assert.Equal(t, -2, history[0].Delta)
	assert.Equal(t, credits.ReasonReimburse, history[1].Reason)
	assert.Equal(t, credits.ReasonGrant, history[2].Reason)
}

func TestRemoveAll_RequiresOwnership(t *testing.T) {
	ledger, store := newLedger()
	ctx := context.Background()
	owner, other, lt := uuid.New(), uuid.New(), uuid.New()

	rec, err := ledger.Grant(ctx, owner, credits.Lesson(lt), 3, credits.GrantOptions{})
	require.NoError(t, err)

	err = ledger.RemoveAll(ctx, rec.ID, other)
	assert.ErrorIs(t, err, common.ErrCreditNotFound)
	assert.Len(t, store.Credits(owner), 1)

	require.NoError(t, ledger.RemoveAll(ctx, rec.ID, owner))
	assert.Empty(t, store.Credits(owner))

	err = ledger.RemoveAll(ctx, rec.ID, owner)
	assert.ErrorIs(t, err, common.ErrCreditNotFound)
}
