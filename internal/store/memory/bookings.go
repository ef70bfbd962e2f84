package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/users"
)

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// lessonView joins the lesson type name and owner account like the SQL does.
func (s *Store) lessonView(b bookings.LessonBooking) *bookings.LessonBooking {
	if b.LessonTypeID != nil {
		b.LessonTypeName = s.d.lessonTypes[*b.LessonTypeID]
	}
	b.UserEmail, b.UserFirstName, b.UserLastName = nil, nil, nil
	if b.UserID != nil {
		if u, ok := s.d.users[*b.UserID]; ok {
			b.UserEmail, b.UserFirstName, b.UserLastName = strPtr(u.Email), strPtr(u.FirstName), strPtr(u.LastName)
		}
	}
	return &b
}

func (s *Store) handledarView(b bookings.HandledarBooking) *bookings.HandledarBooking {
	if hs, ok := s.d.sessions[b.SessionID]; ok {
		b.SessionTitle, b.SessionDate, b.StartTime = hs.Title, hs.Date, hs.StartTime
	}
	b.StudentEmail, b.StudentFirstName, b.StudentLastName = nil, nil, nil
	if b.StudentID != nil {
		if u, ok := s.d.users[*b.StudentID]; ok {
			b.StudentEmail, b.StudentFirstName, b.StudentLastName = strPtr(u.Email), strPtr(u.FirstName), strPtr(u.LastName)
		}
	}
	return &b
}

func (s *Store) purchaseView(p bookings.PackagePurchase) *bookings.PackagePurchase {
	p.PackageName = s.d.packages[p.PackageID].Name
	p.UserEmail, p.UserFirstName, p.UserLastName = nil, nil, nil
	if u, ok := s.d.users[p.UserID]; ok {
		p.UserEmail, p.UserFirstName, p.UserLastName = strPtr(u.Email), strPtr(u.FirstName), strPtr(u.LastName)
	}
	return &p
}

func (s *Store) GetLessonForUpdate(ctx context.Context, id uuid.UUID) (*bookings.LessonBooking, error) {
	defer s.lock(ctx)()
	b, ok := s.d.lessons[id]
	if !ok {
		return nil, common.WrapNotFound(common.KindLesson, id)
	}
	return s.lessonView(b), nil
}

func (s *Store) GetHandledarForUpdate(ctx context.Context, id uuid.UUID) (*bookings.HandledarBooking, error) {
	defer s.lock(ctx)()
	b, ok := s.d.handledar[id]
	if !ok {
		return nil, common.WrapNotFound(common.KindHandledar, id)
	}
	return s.handledarView(b), nil
}

func (s *Store) GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (*bookings.PackagePurchase, error) {
	defer s.lock(ctx)()
	p, ok := s.d.purchases[id]
	if !ok {
		return nil, common.WrapNotFound(common.KindPackage, id)
	}
	return s.purchaseView(p), nil
}

func (s *Store) PackageContents(ctx context.Context, packageID uuid.UUID) ([]*bookings.ContentLine, error) {
	defer s.lock(ctx)()
	lines := s.d.contents[packageID]
	out := make([]*bookings.ContentLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, &l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s *Store) UpdateLessonPayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, st common.BookingStatus) error {
	defer s.lock(ctx)()
	if err := s.check("UpdateLessonPayment"); err != nil {
		return err
	}
	b, ok := s.d.lessons[id]
	if !ok {
		return common.WrapNotFound(common.KindLesson, id)
	}
	b.PaymentStatus, b.Status = ps, st
	s.d.lessons[id] = b
	return nil
}

func (s *Store) UpdateHandledarPayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, st common.BookingStatus) error {
	defer s.lock(ctx)()
	if err := s.check("UpdateHandledarPayment"); err != nil {
		return err
	}
	b, ok := s.d.handledar[id]
	if !ok {
		return common.WrapNotFound(common.KindHandledar, id)
	}
	b.PaymentStatus, b.Status = ps, st
	s.d.handledar[id] = b
	return nil
}

func (s *Store) UpdatePurchasePayment(ctx context.Context, id uuid.UUID, ps common.PaymentStatus, paidAt *time.Time) error {
	defer s.lock(ctx)()
	if err := s.check("UpdatePurchasePayment"); err != nil {
		return err
	}
	p, ok := s.d.purchases[id]
	if !ok {
		return common.WrapNotFound(common.KindPackage, id)
	}
	p.PaymentStatus = ps
	if paidAt != nil {
		t := *paidAt
		p.PaidAt = &t
	}
	s.d.purchases[id] = p
	return nil
}

// ListLessonsForUpdate keeps the order of ids and skips unknown ones. The
// store mutex held by InTx stands in for the row locks.
func (s *Store) ListLessonsForUpdate(ctx context.Context, ids []uuid.UUID) ([]*bookings.LessonBooking, error) {
	defer s.lock(ctx)()
	var out []*bookings.LessonBooking
	for _, id := range ids {
		if b, ok := s.d.lessons[id]; ok {
			out = append(out, s.lessonView(b))
		}
	}
	return out, nil
}

func (s *Store) DeleteLessons(ctx context.Context, ids []uuid.UUID) (int, error) {
	defer s.lock(ctx)()
	if err := s.check("DeleteLessons"); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, ok := s.d.lessons[id]; ok {
			delete(s.d.lessons, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PendingPurchasesBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	defer s.lock(ctx)()
	var pending []bookings.PackagePurchase
	for _, p := range s.d.purchases {
		if p.PaymentStatus == common.PaymentPending && p.PurchaseDate.Before(cutoff) {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].PurchaseDate.Before(pending[j].PurchaseDate) })

	ids := make([]uuid.UUID, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// GetByID returns the user or common.ErrUserNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*users.User, error) {
	defer s.lock(ctx)()
	u, ok := s.d.users[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return &u, nil
}
