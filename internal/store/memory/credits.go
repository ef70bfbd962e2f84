package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/credits"
)

func (s *Store) findCredit(userID uuid.UUID, target credits.Target) (credits.Record, bool) {
	for _, rec := range s.d.credits {
		if rec.UserID == userID && rec.Target == target {
			return rec, true
		}
	}
	return credits.Record{}, false
}

// Upsert mirrors INSERT … ON CONFLICT DO UPDATE on user_credits.
func (s *Store) Upsert(ctx context.Context, userID uuid.UUID, target credits.Target, amount int, packageID *uuid.UUID) (*credits.Record, error) {
	defer s.lock(ctx)()
	if err := s.check("Upsert"); err != nil {
		return nil, err
	}

	now := s.now()
	rec, ok := s.findCredit(userID, target)
	if ok {
		rec.CreditsRemaining += amount
		rec.CreditsTotal += amount
		rec.UpdatedAt = now
	} else {
		rec = credits.Record{
			ID:               uuid.New(),
			UserID:           userID,
			Target:           target,
			CreditsRemaining: amount,
			CreditsTotal:     amount,
			PackageID:        packageID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	s.d.credits[rec.ID] = rec
	return &rec, nil
}

func (s *Store) GetForUpdate(ctx context.Context, userID uuid.UUID, target credits.Target) (*credits.Record, error) {
	defer s.lock(ctx)()
	rec, ok := s.findCredit(userID, target)
	if !ok {
		return nil, common.ErrNoSuchCredit
	}
	return &rec, nil
}

// Decrement enforces the credits_remaining >= 0 check constraint.
func (s *Store) Decrement(ctx context.Context, id uuid.UUID, amount int) (*credits.Record, error) {
	defer s.lock(ctx)()
	if err := s.check("Decrement"); err != nil {
		return nil, err
	}
	rec, ok := s.d.credits[id]
	if !ok {
		return nil, common.ErrNoSuchCredit
	}
	if rec.CreditsRemaining-amount < 0 {
		return nil, common.ErrInsufficientCredits
	}
	rec.CreditsRemaining -= amount
	rec.UpdatedAt = s.now()
	s.d.credits[id] = rec
	return &rec, nil
}

func (s *Store) DeleteOwned(ctx context.Context, id, userID uuid.UUID) (*credits.Record, error) {
	defer s.lock(ctx)()
	rec, ok := s.d.credits[id]
	if !ok || rec.UserID != userID {
		return nil, common.ErrCreditNotFound
	}
	delete(s.d.credits, id)
	return &rec, nil
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID) ([]*credits.Record, error) {
	defer s.lock(ctx)()
	var out []*credits.Record
	for _, rec := range s.d.credits {
		if rec.UserID == userID {
			out = append(out, &rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Target.Type(), out[j].Target.Type()
		if ti != tj {
			return ti > tj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) LogTransaction(ctx context.Context, userID uuid.UUID, target credits.Target, delta int, reason credits.Reason) error {
	defer s.lock(ctx)()
	if err := s.check("LogTransaction"); err != nil {
		return err
	}
	s.d.creditLog = append(s.d.creditLog, credits.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Target:    target,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *Store) RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*credits.Transaction, error) {
	defer s.lock(ctx)()
	var out []*credits.Transaction
	for i := len(s.d.creditLog) - 1; i >= 0 && len(out) < limit; i-- {
		if tx := s.d.creditLog[i]; tx.UserID == userID {
			out = append(out, &tx)
		}
	}
	return out, nil
}
