// Package memory is an in-process implementation of every repository
// interface the services use. It backs STORE_BACKEND=memory for local runs
// and the service tests.
//
// One mutex guards all data. InTx holds it for the whole unit of work and
// restores a snapshot when fn fails, so transactions are serializable and
// all-or-nothing. Row and advisory locks are therefore no-ops.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/credits"
	"trafikskola.se/payments/internal/features/invoices"
	"trafikskola.se/payments/internal/features/users"
)

// HandledarSession is a row of handledar_sessions.
type HandledarSession struct {
	ID        uuid.UUID
	Title     string
	Date      time.Time
	StartTime string
}

// Package is a row of packages.
type Package struct {
	ID    uuid.UUID
	Name  string
	Price decimal.Decimal
}

type data struct {
	users       map[uuid.UUID]users.User
	lessonTypes map[uuid.UUID]string
	sessions    map[uuid.UUID]HandledarSession
	lessons     map[uuid.UUID]bookings.LessonBooking
	handledar   map[uuid.UUID]bookings.HandledarBooking
	packages    map[uuid.UUID]Package
	contents    map[uuid.UUID][]bookings.ContentLine
	purchases   map[uuid.UUID]bookings.PackagePurchase
	credits     map[uuid.UUID]credits.Record
	creditLog   []credits.Transaction
	invoices    map[uuid.UUID]invoices.Invoice
}

func newData() *data {
	return &data{
		users:       make(map[uuid.UUID]users.User),
		lessonTypes: make(map[uuid.UUID]string),
		sessions:    make(map[uuid.UUID]HandledarSession),
		lessons:     make(map[uuid.UUID]bookings.LessonBooking),
		handledar:   make(map[uuid.UUID]bookings.HandledarBooking),
		packages:    make(map[uuid.UUID]Package),
		contents:    make(map[uuid.UUID][]bookings.ContentLine),
		purchases:   make(map[uuid.UUID]bookings.PackagePurchase),
		credits:     make(map[uuid.UUID]credits.Record),
		invoices:    make(map[uuid.UUID]invoices.Invoice),
	}
}

// clone copies every table. Rows are stored by value and replaced, never
// mutated through shared pointers, so a shallow copy per map is enough.
func (d *data) clone() *data {
	return &data{
		users:       maps.Clone(d.users),
		lessonTypes: maps.Clone(d.lessonTypes),
		sessions:    maps.Clone(d.sessions),
		lessons:     maps.Clone(d.lessons),
		handledar:   maps.Clone(d.handledar),
		packages:    maps.Clone(d.packages),
		contents:    maps.Clone(d.contents),
		purchases:   maps.Clone(d.purchases),
		credits:     maps.Clone(d.credits),
		creditLog:   slices.Clone(d.creditLog),
		invoices:    maps.Clone(d.invoices),
	}
}

type fault struct {
	after int // calls that succeed before the fault fires
	calls int
	err   error
}

// Store is the in-memory backend.
type Store struct {
	mu     sync.Mutex
	d      *data
	now    func() time.Time
	faults map[string]*fault
}

// New creates an empty store.
func New() *Store {
	return &Store{d: newData(), now: time.Now, faults: make(map[string]*fault)}
}

type txKey struct{ s *Store }

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{s}).(bool)
	return v
}

// InTx runs fn as one all-or-nothing unit. Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// lock takes the store mutex for a call made outside InTx.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// FailOn makes the call to op after `after` successful ones return err.
// op is the method name, e.g. "DeleteLessons".
func (s *Store) FailOn(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{after: after, err: err}
}

// check must be called with the mutex held.
func (s *Store) check(op string) error {
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	f.calls++
	if f.calls > f.after {
		return f.err
	}
	return nil
}

// ErrInjected is a ready-made fault for tests.
var ErrInjected = errors.New("injected fault")

// ─── seeding ────────────────────────────────────────────────────────────────

// AddUser stores a user.
func (s *Store) AddUser(u users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.users[u.ID] = u
}

// AddLessonType stores a lesson type.
func (s *Store) AddLessonType(id uuid.UUID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.lessonTypes[id] = name
}

// AddHandledarSession stores a handledar session.
func (s *Store) AddHandledarSession(hs HandledarSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.sessions[hs.ID] = hs
}

// AddLesson stores a lesson booking. Joined contact fields are ignored;
// they are resolved from users on read.
func (s *Store) AddLesson(b bookings.LessonBooking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.d.lessons[b.ID] = b
}

// AddHandledarBooking stores a handledar booking.
func (s *Store) AddHandledarBooking(b bookings.HandledarBooking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.d.handledar[b.ID] = b
}

// AddPackage stores a package with its content lines.
func (s *Store) AddPackage(p Package, lines ...bookings.ContentLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.packages[p.ID] = p
	for i := range lines {
		if lines[i].ID == uuid.Nil {
			lines[i].ID = uuid.New()
		}
		lines[i].PackageID = p.ID
	}
	s.d.contents[p.ID] = slices.Clone(lines)
}

// AddPurchase stores a package purchase.
func (s *Store) AddPurchase(p bookings.PackagePurchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.PurchaseDate.IsZero() {
		p.PurchaseDate = s.now()
	}
	s.d.purchases[p.ID] = p
}

// ─── inspection ─────────────────────────────────────────────────────────────

// Lesson returns a lesson booking as stored.
func (s *Store) Lesson(id uuid.UUID) (bookings.LessonBooking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.d.lessons[id]
	return b, ok
}

// HandledarBooking returns a handledar booking as stored.
func (s *Store) HandledarBooking(id uuid.UUID) (bookings.HandledarBooking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.d.handledar[id]
	return b, ok
}

// Purchase returns a package purchase as stored.
func (s *Store) Purchase(id uuid.UUID) (bookings.PackagePurchase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.purchases[id]
	return p, ok
}

// Credits returns every credit record of the user.
func (s *Store) Credits(userID uuid.UUID) []credits.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []credits.Record
	for _, rec := range s.d.credits {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

// CreditLog returns the whole audit trail in insertion order.
func (s *Store) CreditLog() []credits.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.creditLog)
}

// Invoices returns all invoices.
func (s *Store) Invoices() []invoices.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.d.invoices))
}
