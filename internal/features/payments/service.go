// Package payments: service.go is the payment state machine.
//
// confirm: pending/failed → paid (+ booking confirmed), package credits
// granted, invoice issued and marked paid. Runs once: a resource that is
// already paid is reported as AlreadyApplied and nothing is repeated.
// deny:    → failed (+ booking cancelled). No ledger effect.
// remind:  no state change, one reminder to the owner if reachable.
package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/bookings"
	"trafikskola.se/payments/internal/features/invoices"
	"trafikskola.se/payments/internal/features/token"
	"trafikskola.se/payments/internal/metrics"
	"trafikskola.se/payments/internal/notify"
)

// TxRunner opens a unit of work, or joins the one already in ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Invoicer issues and settles invoices inside the confirmation transaction.
type Invoicer interface {
	CreateForResource(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*invoices.Result, error)
	MarkPaidForResource(ctx context.Context, resourceID, userID uuid.UUID) (bool, error)
}

// Deliverer sends a notification best-effort.
type Deliverer interface {
	Deliver(ctx context.Context, msg notify.Message) bool
}

// Outcome reports what a decision did.
type Outcome struct {
	Kind              common.ResourceKind  `json:"kind"`
	ResourceID        uuid.UUID            `json:"id"`
	Decision          common.Decision      `json:"decision"`
	PaymentStatus     common.PaymentStatus `json:"paymentStatus"`
	AlreadyApplied    bool                 `json:"alreadyApplied,omitempty"`
	CreditsGranted    int                  `json:"creditsGranted,omitempty"`
	InvoiceNumber     string               `json:"invoiceNumber,omitempty"`
	NotificationsSent int                  `json:"notificationsSent"`
}

// Preview is what the emailed link shows before the click is confirmed.
type Preview struct {
	Summary           Summary         `json:"resource"`
	SuggestedDecision common.Decision `json:"suggestedDecision,omitempty"`
}

// Link is a minted action token and the public URL that carries it.
type Link struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Service applies payment decisions.
type Service struct {
	store    Store
	tx       TxRunner
	ledger   Granter
	invoices Invoicer
	notifier Deliverer
	codec    *token.Codec
	replay   token.ReplayGuard
	baseURL  string
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithReplayGuard makes confirm/deny links single-use.
func WithReplayGuard(g token.ReplayGuard) Option {
	return func(s *Service) { s.replay = g }
}

// WithPublicBaseURL sets the site root used in minted links.
func WithPublicBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithInvoicer enables invoicing of confirmed resources.
func WithInvoicer(inv Invoicer) Option {
	return func(s *Service) { s.invoices = inv }
}

// NewService creates the payment state machine.
func NewService(store Store, tx TxRunner, ledger Granter, notifier Deliverer, codec *token.Codec, opts ...Option) *Service {
	s := &Service{
		store:    store,
		tx:       tx,
		ledger:   ledger,
		notifier: notifier,
		codec:    codec,
		replay:   token.NoReplayGuard{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply runs decision on the resource.
//
// Errors:
//   - ResourceNotFoundError ("Bokning saknas" / "Order saknas")
//   - common.ErrInvalidArgument: unknown kind or decision
func (s *Service) Apply(ctx context.Context, kind common.ResourceKind, id uuid.UUID, decision common.Decision) (*Outcome, error) {
	if !kind.Valid() || !decision.Valid() {
		return nil, common.ErrInvalidArgument
	}

	var (
		out *Outcome
		err error
	)
	switch decision {
	case common.DecisionConfirm:
		out, err = s.confirm(ctx, kind, id)
	case common.DecisionDeny:
		out, err = s.deny(ctx, kind, id)
	case common.DecisionRemind:
		out, err = s.remind(ctx, kind, id)
	}
	metrics.ObserveDecision(string(kind), string(decision), err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"kind":            kind,
		"resource_id":     id,
		"decision":        decision,
		"already_applied": out.AlreadyApplied,
		"credits":         out.CreditsGranted,
		"notifications":   out.NotificationsSent,
	}).Info("Payment decision applied")
	return out, nil
}

func (s *Service) confirm(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*Outcome, error) {
	out := &Outcome{Kind: kind, ResourceID: id, Decision: common.DecisionConfirm, PaymentStatus: common.PaymentPaid}

	paidAt := s.now()
	var (
		contact bookings.Contact
		sum     Summary
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := load(ctx, s.store, kind, id)
		if err != nil {
			return err
		}
		contact, sum = p.owner(), p.summary()

		// the row is locked, so this read cannot race another confirm
		if p.paymentStatus() == common.PaymentPaid {
			out.AlreadyApplied = true
			return nil
		}

		if err := p.markPaid(ctx, s.store, paidAt); err != nil {
			return err
		}
		if out.CreditsGranted, err = p.onConfirm(ctx, s.store, s.ledger); err != nil {
			return err
		}

		if s.invoices != nil && contact.Registered() {
			res, err := s.invoices.CreateForResource(ctx, kind, id)
			if err != nil {
				return fmt.Errorf("failed to invoice %s %s: %w", kind, id, err)
			}
			if _, err := s.invoices.MarkPaidForResource(ctx, id, *contact.UserID); err != nil {
				return err
			}
			out.InvoiceNumber = res.Invoice.InvoiceNumber
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.AlreadyApplied {
		return out, nil
	}

	sum.PaymentStatus = common.PaymentPaid
	for _, msg := range confirmationMessages(contact, sum, out.CreditsGranted, paidAt) {
		if s.notifier.Deliver(ctx, msg) {
			out.NotificationsSent++
		}
	}
	return out, nil
}

func (s *Service) deny(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*Outcome, error) {
	out := &Outcome{Kind: kind, ResourceID: id, Decision: common.DecisionDeny, PaymentStatus: common.PaymentFailed}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := load(ctx, s.store, kind, id)
		if err != nil {
			return err
		}
		return p.markFailed(ctx, s.store)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) remind(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (*Outcome, error) {
	var (
		contact bookings.Contact
		sum     Summary
	)
	// read-only; the transaction only scopes the row lock of the loader
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := load(ctx, s.store, kind, id)
		if err != nil {
			return err
		}
		contact, sum = p.owner(), p.summary()
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{Kind: kind, ResourceID: id, Decision: common.DecisionRemind, PaymentStatus: sum.PaymentStatus}
	if !contact.Reachable() {
		log.WithFields(log.Fields{"kind": kind, "resource_id": id}).Debug("No contact for reminder, skipped")
		return out, nil
	}
	if s.notifier.Deliver(ctx, reminderMessage(contact, sum)) {
		out.NotificationsSent = 1
	}
	return out, nil
}

// ApplyToken is the emailed-link path. decision overrides the one carried
// by the token; with neither, common.ErrDecisionRequired is returned.
func (s *Service) ApplyToken(ctx context.Context, tok string, decision common.Decision) (*Outcome, error) {
	action, err := s.codec.Decode(tok)
	if err != nil {
		return nil, err
	}
	if decision == "" {
		decision = action.SuggestedDecision
	}
	if decision == "" {
		return nil, common.ErrDecisionRequired
	}
	if !decision.Valid() {
		return nil, common.ErrInvalidArgument
	}

	claimed := false
	if decision != common.DecisionRemind && action.ID != "" {
		ok, err := s.replay.Claim(ctx, action.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, common.ErrTokenUsed
		}
		claimed = true
	}

	out, err := s.Apply(ctx, action.Kind, action.ResourceID, decision)
	if err != nil {
		if claimed {
			if rerr := s.replay.Release(context.WithoutCancel(ctx), action.ID); rerr != nil {
				log.WithError(rerr).Warn("Failed to release action token claim")
			}
		}
		return nil, err
	}
	return out, nil
}

// Preview decodes a token and describes its resource without changing it.
func (s *Service) Preview(ctx context.Context, tok string) (*Preview, error) {
	action, err := s.codec.Decode(tok)
	if err != nil {
		return nil, err
	}

	sum, err := s.describe(ctx, action.Kind, action.ResourceID)
	if err != nil {
		return nil, err
	}
	return &Preview{Summary: sum, SuggestedDecision: action.SuggestedDecision}, nil
}

func (s *Service) describe(ctx context.Context, kind common.ResourceKind, id uuid.UUID) (Summary, error) {
	var sum Summary
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := load(ctx, s.store, kind, id)
		if err != nil {
			return err
		}
		sum = p.summary()
		return nil
	})
	return sum, err
}

// IssueToken mints a link for (kind, id, decision). The resource must
// exist, so a mistyped id fails with "Bokning saknas" or "Order saknas"
// instead of producing a link that can never be applied.
func (s *Service) IssueToken(ctx context.Context, kind common.ResourceKind, id uuid.UUID, decision common.Decision) (*Link, error) {
	if _, err := s.describe(ctx, kind, id); err != nil {
		return nil, err
	}
	tok, err := s.codec.Encode(kind, id, decision)
	if err != nil {
		return nil, err
	}
	return &Link{Token: tok, URL: LinkURL(s.baseURL, tok)}, nil
}

// LinkURL is the public page that previews and applies tok.
func LinkURL(baseURL, tok string) string {
	return strings.TrimRight(baseURL, "/") + "/betalning/atgard?token=" + url.QueryEscape(tok)
}

// Webhook outcomes reported by the payment provider.
const (
	OutcomePaid   = "paid"
	OutcomeFailed = "failed"
)

// ApplyWebhook maps a provider outcome onto confirm or deny.
func (s *Service) ApplyWebhook(ctx context.Context, kind common.ResourceKind, id uuid.UUID, outcome string) (*Outcome, error) {
	switch outcome {
	case OutcomePaid:
		return s.Apply(ctx, kind, id, common.DecisionConfirm)
	case OutcomeFailed:
		return s.Apply(ctx, kind, id, common.DecisionDeny)
	}
	return nil, fmt.Errorf("okänt utfall %q: %w", outcome, common.ErrInvalidArgument)
}

