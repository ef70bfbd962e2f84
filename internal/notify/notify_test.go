package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDispatcher(n Notifier) *Dispatcher {
	return NewDispatcher(n, DispatcherConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Timeout:     time.Second,
		Concurrency: 2,
	})
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	n := NotifierFunc(func(ctx context.Context, msg Message) error {
		if calls.Add(1) < 3 {
			return errors.New("smtp busy")
		}
		return nil
	})

	ok := testDispatcher(n).Deliver(context.Background(), Message{To: "a@example.se", Kind: KindPaymentReminder})

	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_GivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	n := NotifierFunc(func(ctx context.Context, msg Message) error {
		calls.Add(1)
		return errors.New("down")
	})

	ok := testDispatcher(n).Deliver(context.Background(), Message{To: "a@example.se"})

	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_RecoversPanic(t *testing.T) {
	n := NotifierFunc(func(ctx context.Context, msg Message) error {
		panic("template nil")
	})

	assert.NotPanics(t, func() {
		ok := testDispatcher(n).Deliver(context.Background(), Message{To: "a@example.se"})
		assert.False(t, ok)
	})
}

func TestDeliver_SurvivesCancelledCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NotifierFunc(func(ctx context.Context, msg Message) error {
		return ctx.Err()
	})

	assert.True(t, testDispatcher(n).Deliver(ctx, Message{To: "a@example.se"}))
}

func TestDeliver_NoRecipientSkipped(t *testing.T) {
	var calls atomic.Int32
	n := NotifierFunc(func(ctx context.Context, msg Message) error {
		calls.Add(1)
		return nil
	})

	assert.False(t, testDispatcher(n).Deliver(context.Background(), Message{}))
	assert.Zero(t, calls.Load())
}

func TestDeliverAll_CountsFailures(t *testing.T) {
	n := NotifierFunc(func(ctx context.Context, msg Message) error {
		if msg.To == "bad@example.se" {
			return errors.New("rejected")
		}
		return nil
	})

	rep := testDispatcher(n).DeliverAll(context.Background(), []Message{
		{To: "a@example.se"}, {To: "bad@example.se"}, {To: "b@example.se"},
	})

	assert.Equal(t, Report{Attempted: 3, Delivered: 2, Failed: 1}, rep)
}

func TestRouter(t *testing.T) {
	var mu sync.Mutex
	var got []string
	record := func(name string) Notifier {
		return NotifierFunc(func(ctx context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name)
			return nil
		})
	}

	r := NewRouter(record("mail")).Route(KindOperatorSummary, record("telegram"))
	require.NoError(t, r.Send(context.Background(), Message{Kind: KindOperatorSummary}))
	require.NoError(t, r.Send(context.Background(), Message{Kind: KindBookingCancelled}))

	assert.Equal(t, []string{"telegram", "mail"}, got)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifier_PublishesEvent(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w}

	err := n.Send(context.Background(), Message{
		To: "elev@example.se", Subject: "Betalning bekräftad", Body: "Tack!", Kind: KindPaymentConfirmed,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "elev@example.se", string(w.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, KindPaymentConfirmed, ev.Kind)
	assert.Equal(t, "Betalning bekräftad", ev.Subject)
	assert.False(t, ev.SentAt.IsZero())
}

func TestKafkaNotifier_Errors(t *testing.T) {
	n := &KafkaNotifier{writer: &fakeWriter{err: errors.New("leader not available")}}

	assert.ErrorIs(t, n.Send(context.Background(), Message{}), ErrNoRecipient)
	assert.Error(t, n.Send(context.Background(), Message{To: "x@example.se"}))
}

type fakeBot struct {
	params *telego.SendMessageParams
}

func (f *fakeBot) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.params = p
	return &telego.Message{}, nil
}

func TestTelegramNotifier_Send(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, chatID: -100123}

	require.NoError(t, n.Send(context.Background(), Message{Subject: "3 bokningar borttagna", Body: "Detaljer"}))
	require.NotNil(t, bot.params)
	assert.Equal(t, int64(-100123), bot.params.ChatID.ID)
	assert.Equal(t, "3 bokningar borttagna\n\nDetaljer", bot.params.Text)
}
