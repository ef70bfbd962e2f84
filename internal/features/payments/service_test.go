package payments_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/credits"
	"trafikskola.se/payments/internal/features/invoices"
	"trafikskola.se/payments/internal/features/payments"
	"trafikskola.se/payments/internal/features/token"
	"trafikskola.se/payments/internal/features/users"
	"trafikskola.se/payments/internal/notify"
	"trafikskola.se/payments/internal/store/memory"
)

// recorder is a Deliverer that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail bool
}

func (r *recorder) Deliver(_ context.Context, msg notify.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return !r.fail
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

// memoryReplay is a single-use guard backed by a map.
type memoryReplay struct {
	mu   sync.Mutex
	used map[string]bool
}

func (g *memoryReplay) Claim(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used[id] {
		return false, nil
	}
	g.used[id] = true
	return true, nil
}

func (g *memoryReplay) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.used, id)
	return nil
}

type fixture struct {
	store    *memory.Store
	svc      *payments.Service
	codec    *token.Codec
	notes    *recorder
	user     uuid.UUID
	lessonLT uuid.UUID
}

func newFixture(t *testing.T, opts ...payments.Option) *fixture {
	t.Helper()
	store := memory.New()
	ledger := credits.NewLedger(store, store)
	inv := invoices.NewService(store, store, 30)
	codec, err := token.NewCodec("test-secret")
	require.NoError(t, err)
	notes := &recorder{}

	opts = append([]payments.Option{
		payments.WithInvoicer(inv),
		payments.WithPublicBaseURL("https://trafikskola.example.se/"),
	}, opts...)

	f := &fixture{
		store:    store,
		svc:      payments.NewService(store, store, ledger, notes, codec, opts...),
		codec:    codec,
		notes:    notes,
		user:     uuid.New(),
		lessonLT: uuid.New(),
	}
	store.AddUser(users.User{ID: f.user, Email: "elev@example.se", FirstName: "Elin", LastName: "Berg", Role: "student"})
	store.AddLessonType(f.lessonLT, "B-körlektion")
	return f
}

func (f *fixture) addPackagePurchase() (purchaseID uuid.UUID) {
	pkg := uuid.New()
	f.store.AddPackage(memory.Package{ID: pkg, Name: "Startpaket", Price: decimal.NewFromInt(4990)},
		bookings.ContentLine{Target: credits.Lesson(f.lessonLT), Credits: 5, SortOrder: 1},
		bookings.ContentLine{Target: credits.AnyHandledar(), Credits: 1, SortOrder: 2},
		bookings.ContentLine{Target: credits.Lesson(uuid.New()), Credits: 0, SortOrder: 3},
	)
	purchaseID = uuid.New()
	f.store.AddPurchase(bookings.PackagePurchase{
		ID: purchaseID, UserID: f.user, PackageID: pkg,
		PricePaid: decimal.NewFromInt(4990), PaymentStatus: common.PaymentPending,
	})
	return purchaseID
}

func (f *fixture) addGuestLesson(email string) uuid.UUID {
	id := uuid.New()
	lt := f.lessonLT
	b := bookings.LessonBooking{
		ID: id, LessonTypeID: &lt, ScheduledDate: time.Now().AddDate(0, 0, 7), StartTime: "14:00",
		TotalPrice: decimal.NewFromInt(695), Status: common.BookingPending, PaymentStatus: common.PaymentPending,
	}
	name := "Gäst Gästsson"
	b.GuestName = &name
	if email != "" {
		b.GuestEmail = &email
	}
	f.store.AddLesson(b)
	return id
}

func (f *fixture) addUserLesson() uuid.UUID {
	id, uid, lt := uuid.New(), f.user, f.lessonLT
	f.store.AddLesson(bookings.LessonBooking{
		ID: id, UserID: &uid, LessonTypeID: &lt, ScheduledDate: time.Now().AddDate(0, 0, 2), StartTime: "08:00",
		TotalPrice: decimal.NewFromInt(695), Status: common.BookingPending, PaymentStatus: common.PaymentPending,
	})
	return id
}

func (f *fixture) addHandledarBooking(studentID *uuid.UUID) uuid.UUID {
	session, id := uuid.New(), uuid.New()
	f.store.AddHandledarSession(memory.HandledarSession{ID: session, Title: "Handledarkurs", Date: time.Now().AddDate(0, 0, 10), StartTime: "18:00"})
	supervisor, email := "Anna Handledare", "anna@example.se"
	f.store.AddHandledarBooking(bookings.HandledarBooking{
		ID: id, SessionID: session, StudentID: studentID, SupervisorName: &supervisor, SupervisorEmail: &email,
		Price: decimal.NewFromInt(500), Status: common.BookingPending, PaymentStatus: common.PaymentPending,
	})
	return id
}

func balances(store *memory.Store, user uuid.UUID) map[string]int {
	out := map[string]int{}
	for _, r := range store.Credits(user) {
		out[r.Target.String()] = r.CreditsRemaining
	}
	return out
}

func TestConfirm_PackageGrantsEveryLine(t *testing.T) {
	f := newFixture(t)
	purchase := f.addPackagePurchase()

	out, err := f.svc.Apply(context.Background(), common.KindPackage, purchase, common.DecisionConfirm)
	require.NoError(t, err)

	assert.False(t, out.AlreadyApplied)
	assert.Equal(t, 6, out.CreditsGranted)
	assert.Equal(t, map[string]int{
		"lesson:" + f.lessonLT.String(): 5,
		"handledar:any":                 1,
	}, balances(f.store, f.user))

	p, _ := f.store.Purchase(purchase)
	assert.Equal(t, common.PaymentPaid, p.PaymentStatus)
	require.NotNil(t, p.PaidAt)

	grants := 0
	for _, tx := range f.store.CreditLog() {
		if tx.Reason == credits.ReasonPackage {
			grants++
		}
	}
	assert.Equal(t, 2, grants)

	assert.Equal(t, []notify.Kind{notify.KindPaymentConfirmed, notify.KindBookingConfirmed}, f.notes.kinds())
	assert.Equal(t, 2, out.NotificationsSent)
	assert.NotEmpty(t, out.InvoiceNumber)
}

func TestConfirm_Idempotent(t *testing.T) {
	f := newFixture(t)
	purchase := f.addPackagePurchase()
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, common.KindPackage, purchase, common.DecisionConfirm)
	require.NoError(t, err)
	once := balances(f.store, f.user)

	again, err := f.svc.Apply(ctx, common.KindPackage, purchase, common.DecisionConfirm)
	require.NoError(t, err)

	assert.True(t, again.AlreadyApplied)
	assert.Zero(t, again.CreditsGranted)
	assert.Equal(t, once, balances(f.store, f.user))
	assert.Len(t, f.store.Invoices(), 1)
	assert.Len(t, f.notes.kinds(), 2, "second confirm sends nothing")
}

func TestConfirm_PaymentMessageCarriesPaidTime(t *testing.T) {
	paid := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, payments.WithClock(func() time.Time { return paid }))
	lesson := f.addUserLesson()

	_, err := f.svc.Apply(context.Background(), common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)

	require.NotEmpty(t, f.notes.msgs)
	msg := f.notes.msgs[0]
	assert.Equal(t, notify.KindPaymentConfirmed, msg.Kind)
	assert.Contains(t, msg.Body, "(registrerad 2026-03-14 10:30)", "rendered in Stockholm time")

	b, ok := f.store.Lesson(lesson)
	require.True(t, ok)
	assert.Equal(t, common.PaymentPaid, b.PaymentStatus)
}

func TestConfirm_AfterDenyDoesNotGrantAgain(t *testing.T) {
	f := newFixture(t)
	purchase := f.addPackagePurchase()
	ctx := context.Background()

	// a late "failed" webhook lands between two "paid" ones
	first, err := f.svc.Apply(ctx, common.KindPackage, purchase, common.DecisionConfirm)
	require.NoError(t, err)
	assert.Equal(t, 6, first.CreditsGranted)

	_, err = f.svc.Apply(ctx, common.KindPackage, purchase, common.DecisionDeny)
	require.NoError(t, err)

	again, err := f.svc.Apply(ctx, common.KindPackage, purchase, common.DecisionConfirm)
	require.NoError(t, err)
	assert.False(t, again.AlreadyApplied)
	assert.Zero(t, again.CreditsGranted)

	assert.Equal(t, map[string]int{
		"lesson:" + f.lessonLT.String(): 5,
		"handledar:any":                 1,
	}, balances(f.store, f.user))
	p, _ := f.store.Purchase(purchase)
	assert.Equal(t, common.PaymentPaid, p.PaymentStatus)
	assert.Len(t, f.store.Invoices(), 1)
}

func TestConfirm_ConcurrentGrantsOnce(t *testing.T) {
	f := newFixture(t)
	purchase := f.addPackagePurchase()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Apply(context.Background(), common.KindPackage, purchase, common.DecisionConfirm)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, balances(f.store, f.user)["lesson:"+f.lessonLT.String()])
}

func TestConfirm_LessonSetsBookingConfirmed(t *testing.T) {
	f := newFixture(t)
	lesson := f.addUserLesson()

	out, err := f.svc.Apply(context.Background(), common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)

	b, _ := f.store.Lesson(lesson)
	assert.Equal(t, common.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, common.BookingConfirmed, b.Status)
	assert.Empty(t, f.store.CreditLog())

	require.Len(t, f.store.Invoices(), 1)
	assert.Equal(t, invoices.StatusPaid, f.store.Invoices()[0].Status)
	assert.Equal(t, f.store.Invoices()[0].InvoiceNumber, out.InvoiceNumber)
}

func TestConfirm_GuestIsNotInvoiced(t *testing.T) {
	f := newFixture(t)
	lesson := f.addGuestLesson("gast@example.se")

	out, err := f.svc.Apply(context.Background(), common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)
	assert.Empty(t, out.InvoiceNumber)
	assert.Empty(t, f.store.Invoices())
	assert.Equal(t, 2, out.NotificationsSent)
}

func TestConfirm_NotificationFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.notes.fail = true
	lesson := f.addUserLesson()

	out, err := f.svc.Apply(context.Background(), common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)
	assert.Zero(t, out.NotificationsSent)

	b, _ := f.store.Lesson(lesson)
	assert.Equal(t, common.PaymentPaid, b.PaymentStatus)
}

func TestConfirm_GrantFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	purchase := f.addPackagePurchase()
	f.store.FailOn("Upsert", 1, memory.ErrInjected)

	_, err := f.svc.Apply(context.Background(), common.KindPackage, purchase, common.DecisionConfirm)
	require.ErrorIs(t, err, memory.ErrInjected)

	p, _ := f.store.Purchase(purchase)
	assert.Equal(t, common.PaymentPending, p.PaymentStatus)
	assert.Empty(t, f.store.Credits(f.user))
	assert.Empty(t, f.store.Invoices())
	assert.Empty(t, f.notes.kinds())
}

func TestDeny_AllKinds(t *testing.T) {
	f := newFixture(t)
	student := f.user
	ctx := context.Background()

	lesson := f.addUserLesson()
	handledar := f.addHandledarBooking(&student)
	purchase := f.addPackagePurchase()

	for _, c := range []struct {
		kind common.ResourceKind
		id   uuid.UUID
	}{{common.KindLesson, lesson}, {common.KindHandledar, handledar}, {common.KindPackage, purchase}} {
		out, err := f.svc.Apply(ctx, c.kind, c.id, common.DecisionDeny)
		require.NoError(t, err, c.kind)
		assert.Equal(t, common.PaymentFailed, out.PaymentStatus)
	}

	b, _ := f.store.Lesson(lesson)
	assert.Equal(t, common.PaymentFailed, b.PaymentStatus)
	assert.Equal(t, common.BookingCancelled, b.Status)

	h, _ := f.store.HandledarBooking(handledar)
	assert.Equal(t, common.PaymentFailed, h.PaymentStatus)
	assert.Equal(t, common.BookingCancelled, h.Status)

	p, _ := f.store.Purchase(purchase)
	assert.Equal(t, common.PaymentFailed, p.PaymentStatus)
	assert.Nil(t, p.PaidAt)

	assert.Empty(t, f.store.CreditLog())
	assert.Empty(t, f.store.Credits(f.user))
	assert.Empty(t, f.notes.kinds())
}

func TestRemind_NoContactIsSilent(t *testing.T) {
	f := newFixture(t)
	lesson := f.addGuestLesson("")

	out, err := f.svc.Apply(context.Background(), common.KindLesson, lesson, common.DecisionRemind)
	require.NoError(t, err)
	assert.Zero(t, out.NotificationsSent)
	assert.Empty(t, f.notes.kinds())

	b, _ := f.store.Lesson(lesson)
	assert.Equal(t, common.PaymentPending, b.PaymentStatus)
	assert.Equal(t, common.BookingPending, b.Status)
}

func TestRemind_SupervisorFallback(t *testing.T) {
	f := newFixture(t)
	handledar := f.addHandledarBooking(nil)

	out, err := f.svc.Apply(context.Background(), common.KindHandledar, handledar, common.DecisionRemind)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NotificationsSent)

	require.Len(t, f.notes.msgs, 1)
	assert.Equal(t, "anna@example.se", f.notes.msgs[0].To)
	assert.Equal(t, notify.KindPaymentReminder, f.notes.msgs[0].Kind)

	h, _ := f.store.HandledarBooking(handledar)
	assert.Equal(t, common.PaymentPending, h.PaymentStatus)
}

func TestApply_NotFoundMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, common.KindLesson, uuid.New(), common.DecisionConfirm)
	var nf *common.ResourceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Bokning saknas", nf.Error())

	_, err = f.svc.Apply(ctx, common.KindHandledar, uuid.New(), common.DecisionRemind)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Bokning saknas", nf.Error())

	_, err = f.svc.Apply(ctx, common.KindPackage, uuid.New(), common.DecisionDeny)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Order saknas", nf.Error())
}

func TestIssueToken_UnknownResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IssueToken(ctx, common.KindLesson, uuid.New(), common.DecisionConfirm)
	var nf *common.ResourceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Bokning saknas", nf.Error())

	_, err = f.svc.IssueToken(ctx, common.KindPackage, uuid.New(), common.DecisionRemind)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Order saknas", nf.Error())
}

func TestApplyToken_UsesSuggestedDecision(t *testing.T) {
	f := newFixture(t)
	lesson := f.addUserLesson()

	link, err := f.svc.IssueToken(context.Background(), common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "/betalning/atgard", u.Path)
	assert.Equal(t, link.Token, u.Query().Get("token"))

	out, err := f.svc.ApplyToken(context.Background(), link.Token, "")
	require.NoError(t, err)
	assert.Equal(t, common.DecisionConfirm, out.Decision)
}

func TestApplyToken_OverrideAndMissingDecision(t *testing.T) {
	f := newFixture(t)
	lesson := f.addUserLesson()
	ctx := context.Background()

	bare, err := f.codec.Encode(common.KindLesson, lesson, "")
	require.NoError(t, err)

	_, err = f.svc.ApplyToken(ctx, bare, "")
	assert.ErrorIs(t, err, common.ErrDecisionRequired)

	out, err := f.svc.ApplyToken(ctx, bare, common.DecisionDeny)
	require.NoError(t, err)
	assert.Equal(t, common.DecisionDeny, out.Decision)
}

func TestApplyToken_Tampered(t *testing.T) {
	f := newFixture(t)
	other, err := token.NewCodec("another-secret")
	require.NoError(t, err)

	tok, err := other.Encode(common.KindLesson, f.addUserLesson(), common.DecisionConfirm)
	require.NoError(t, err)

	_, err = f.svc.ApplyToken(context.Background(), tok, "")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestApplyToken_SingleUse(t *testing.T) {
	f := newFixture(t, payments.WithReplayGuard(&memoryReplay{used: map[string]bool{}}))
	lesson := f.addUserLesson()
	ctx := context.Background()

	tok, err := f.codec.Encode(common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)

	_, err = f.svc.ApplyToken(ctx, tok, "")
	require.NoError(t, err)
	_, err = f.svc.ApplyToken(ctx, tok, "")
	assert.ErrorIs(t, err, common.ErrTokenUsed)

	// reminders do not consume the link
	_, err = f.svc.ApplyToken(ctx, tok, common.DecisionRemind)
	assert.NoError(t, err)
}

func TestApplyToken_ClaimReleasedOnFailure(t *testing.T) {
	f := newFixture(t, payments.WithReplayGuard(&memoryReplay{used: map[string]bool{}}))
	lesson := f.addUserLesson()
	ctx := context.Background()
	f.store.FailOn("UpdateLessonPayment", 0, memory.ErrInjected)

	tok, err := f.codec.Encode(common.KindLesson, lesson, common.DecisionConfirm)
	require.NoError(t, err)

	_, err = f.svc.ApplyToken(ctx, tok, "")
	require.ErrorIs(t, err, memory.ErrInjected)

	f.store.FailOn("UpdateLessonPayment", 1000, memory.ErrInjected)
	_, err = f.svc.ApplyToken(ctx, tok, "")
	assert.NoError(t, err)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	purchase := f.addPackagePurchase()

	link, err := f.svc.IssueToken(context.Background(), common.KindPackage, purchase, common.DecisionRemind)
	require.NoError(t, err)

	p, err := f.svc.Preview(context.Background(), link.Token)
	require.NoError(t, err)
	assert.Equal(t, "Startpaket", p.Summary.Title)
	assert.Equal(t, common.PaymentPending, p.Summary.PaymentStatus)
	assert.Equal(t, common.DecisionRemind, p.SuggestedDecision)
	assert.Empty(t, f.notes.kinds())
}

func TestApplyWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lesson := f.addUserLesson()

	out, err := f.svc.ApplyWebhook(ctx, common.KindLesson, lesson, payments.OutcomePaid)
	require.NoError(t, err)
	assert.Equal(t, common.DecisionConfirm, out.Decision)

	_, err = f.svc.ApplyWebhook(ctx, common.KindLesson, lesson, "refunded")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}
