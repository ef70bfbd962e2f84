// Package cancellation deletes lesson bookings in bulk on behalf of an
// operator: one transaction for reimbursement and deletion, then
// best-effort notifications once the data is committed.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/credits"
	"trafikskola.se/payments/internal/metrics"
	"trafikskola.se/payments/internal/notify"
)

// Store is what the orchestrator needs from the bookings table.
type Store interface {
	ListLessonsForUpdate(ctx context.Context, ids []uuid.UUID) ([]*bookings.LessonBooking, error)
	DeleteLessons(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Reimburser gives one lesson credit back.
type Reimburser interface {
	Reimburse(ctx context.Context, userID, lessonTypeID uuid.UUID) (*credits.Record, error)
}

// TxRunner opens a unit of work, or joins the one already in ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Dispatcher sends notifications best-effort.
type Dispatcher interface {
	Deliver(ctx context.Context, msg notify.Message) bool
	DeliverAll(ctx context.Context, msgs []notify.Message) notify.Report
}

// Operator is who asked for the deletion; the summary goes to them.
type Operator struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Request of a bulk cancellation.
type Request struct {
	IDs               []uuid.UUID
	ReimburseCredits  bool
	SendNotifications bool
	Operator          Operator
}

// Stats summarises a bulk cancellation.
type Stats struct {
	Deleted                int               `json:"deleted"`
	DeletedPerUser         map[uuid.UUID]int `json:"deletedPerUser"`
	GuestDeleted           int               `json:"guestDeleted"`
	CreditsReimbursed      int               `json:"creditsReimbursed"`
	NotificationsAttempted int               `json:"notificationsAttempted"`
	NotificationsFailed    int               `json:"notificationsFailed"`
	OperatorNotified       bool              `json:"operatorNotified"`
}

// userGroup holds one registered user's bookings in request order.
type userGroup struct {
	userID   uuid.UUID
	contact  bookings.Contact
	bookings []*bookings.LessonBooking
}

// Service is the bulk cancellation orchestrator.
type Service struct {
	store         Store
	tx            TxRunner
	ledger        Reimburser
	dispatcher    Dispatcher
	operatorEmail string
}

// NewService creates the orchestrator. operatorEmail receives the summary
// when the request names no operator.
func NewService(store Store, tx TxRunner, ledger Reimburser, dispatcher Dispatcher, operatorEmail string) *Service {
	return &Service{
		store:         store,
		tx:            tx,
		ledger:        ledger,
		dispatcher:    dispatcher,
		operatorEmail: operatorEmail,
	}
}

// BulkCancel deletes the bookings in req.IDs.
//
// Steps:
//  1. in one transaction: load and lock all bookings with owner contact
//  2. split into registered users (first-seen order) and guests
//  3. per user, reimburse then delete; then delete guests
//  4. after commit: notify users and distinct guest emails concurrently
//  5. after commit: send the operator summary
//
// The row locks make a concurrent cancel of the same booking wait and then
// see it gone, so a booking is reimbursed at most once.
//
// Errors:
//   - common.ErrInvalidArgument: no ids
//   - common.ErrNotFound: none of the ids exist
func (s *Service) BulkCancel(ctx context.Context, req Request) (*Stats, error) {
	ids := dedupe(req.IDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("inga bokningar angivna: %w", common.ErrInvalidArgument)
	}

	var (
		groups []*userGroup
		guests []*bookings.LessonBooking
		stats  *Stats
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		found, err := s.store.ListLessonsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return common.NewResourceNotFound(common.KindLesson)
		}

		groups, guests = partition(found)
		stats = &Stats{DeletedPerUser: make(map[uuid.UUID]int, len(groups))}

		for _, g := range groups {
			if req.ReimburseCredits {
				for _, b := range g.bookings {
					if b.LessonTypeID == nil {
						continue
					}
					if _, err := s.ledger.Reimburse(ctx, g.userID, *b.LessonTypeID); err != nil {
						return fmt.Errorf("failed to reimburse user %s: %w", g.userID, err)
					}
					stats.CreditsReimbursed++
				}
			}

			n, err := s.store.DeleteLessons(ctx, idsOf(g.bookings))
			if err != nil {
				return err
			}
			stats.DeletedPerUser[g.userID] = n
			stats.Deleted += n
		}

		if len(guests) > 0 {
			n, err := s.store.DeleteLessons(ctx, idsOf(guests))
			if err != nil {
				return err
			}
			stats.GuestDeleted = n
			stats.Deleted += n
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			log.WithError(err).WithField("requested", len(ids)).Error("Bulk cancellation rolled back")
		}
		return nil, err
	}

	metrics.BookingsCancelled.Add(float64(stats.Deleted))
	metrics.CreditsReimbursed.Add(float64(stats.CreditsReimbursed))
	log.WithFields(log.Fields{
		"deleted":    stats.Deleted,
		"users":      len(groups),
		"guests":     stats.GuestDeleted,
		"reimbursed": stats.CreditsReimbursed,
	}).Info("Bookings cancelled")

	if req.SendNotifications {
		msgs := cancellationMessages(groups, guests, req.ReimburseCredits)
		rep := s.dispatcher.DeliverAll(ctx, msgs)
		stats.NotificationsAttempted = rep.Attempted
		stats.NotificationsFailed = rep.Failed
	}

	operator := req.Operator
	if strings.TrimSpace(operator.Email) == "" {
		operator.Email = s.operatorEmail
	}
	if operator.Email != "" {
		stats.OperatorNotified = s.dispatcher.Deliver(ctx, summaryMessage(operator, stats, len(ids)))
	}

	return stats, nil
}

// partition splits bookings into per-user groups, in order of first
// appearance, and guest bookings.
func partition(found []*bookings.LessonBooking) ([]*userGroup, []*bookings.LessonBooking) {
	var (
		groups []*userGroup
		guests []*bookings.LessonBooking
	)
	index := make(map[uuid.UUID]*userGroup)

	for _, b := range found {
		if b.UserID == nil {
			guests = append(guests, b)
			continue
		}
		g, ok := index[*b.UserID]
		if !ok {
			g = &userGroup{userID: *b.UserID, contact: b.Owner()}
			index[*b.UserID] = g
			groups = append(groups, g)
		}
		g.bookings = append(g.bookings, b)
	}
	return groups, guests
}

func idsOf(bs []*bookings.LessonBooking) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ID)
	}
	return ids
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
