// Package notify hands finished notification texts to a transport.
// Rendering HTML mail is somebody else's job; the core only produces a
// subject and a plain-text body.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Kind tags a notification so transports and templates can route it.
type Kind string

const (
	KindPaymentConfirmed Kind = "payment_confirmed"
	KindBookingConfirmed Kind = "booking_confirmed"
	KindPaymentReminder  Kind = "payment_reminder"
	KindBookingCancelled Kind = "booking_cancelled"
	KindOperatorSummary  Kind = "operator_summary"
)

// Message is one notification to one recipient.
type Message struct {
	To      string     `json:"to"`
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
	Kind    Kind       `json:"kind"`
	UserID  *uuid.UUID `json:"user_id,omitempty"`
}

// Notifier delivers a message. Implementations return an error on failure;
// the Dispatcher is what turns failures into log lines.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ErrNoRecipient is returned for messages without an address. It is never retried.
var ErrNoRecipient = errors.New("notification has no recipient")

// Router sends each kind through its own transport, falling back to Default.
type Router struct {
	Default Notifier
	routes  map[Kind]Notifier
}

// NewRouter creates a router with a default transport.
func NewRouter(def Notifier) *Router {
	return &Router{Default: def, routes: make(map[Kind]Notifier)}
}

// Route sends kind through n.
func (r *Router) Route(kind Kind, n Notifier) *Router {
	r.routes[kind] = n
	return r
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	if n, ok := r.routes[msg.Kind]; ok {
		return n.Send(ctx, msg)
	}
	return r.Default.Send(ctx, msg)
}
