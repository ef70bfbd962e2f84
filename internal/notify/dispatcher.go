package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"trafikskola.se/payments/internal/metrics"
)

// DispatcherConfig bounds the work spent on one notification.
type DispatcherConfig struct {
	MaxAttempts int           // attempts per message
	RetryDelay  time.Duration // base backoff delay
	Timeout     time.Duration // per attempt series
	Concurrency int           // parallel sends in DeliverAll
}

// Dispatcher is the best-effort front of a Notifier: it retries, times out,
// recovers panics and logs, and never returns an error to the caller.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
}

// NewDispatcher wraps n. Zero config fields get small defaults.
func NewDispatcher(n Notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Dispatcher{notifier: n, cfg: cfg}
}

// Report summarises a batch of deliveries.
type Report struct {
	Attempted int
	Delivered int
	Failed    int
}

// Deliver sends msg and reports whether it got through. The caller's
// cancellation does not abort the send: it usually runs right after a
// commit, when the request may already be gone.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) (delivered bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"component": "notify",
				"kind":      msg.Kind,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			}).Error("Notifier panicked, recovered")
			delivered = false
		}
		metrics.ObserveNotification(string(msg.Kind), delivered)
	}()

	if msg.To == "" {
		log.WithField("kind", msg.Kind).Debug("Notification without recipient skipped")
		return false
	}

	err := retryWithBackoff(ctx, d.cfg.MaxAttempts, d.cfg.RetryDelay, func(ctx context.Context) error {
		return d.notifier.Send(ctx, msg)
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"kind": msg.Kind,
			"to":   msg.To,
		}).Warn("Notification failed")
		return false
	}
	return true
}

// DeliverAll sends msgs concurrently, at most Concurrency at a time.
// Individual failures are counted, never propagated.
func (d *Dispatcher) DeliverAll(ctx context.Context, msgs []Message) Report {
	var delivered atomic.Int64

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			if d.Deliver(ctx, msg) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Attempted: len(msgs), Delivered: int(delivered.Load())}
	rep.Failed = rep.Attempted - rep.Delivered
	if rep.Failed > 0 {
		log.WithFields(log.Fields{
			"attempted": rep.Attempted,
			"failed":    rep.Failed,
		}).Warn("Some notifications were not delivered")
	}
	return rep
}
