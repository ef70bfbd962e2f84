// Package common: kinds.go holds the vocabulary shared by the token codec,
// the payment state machine and the invoice sequencer.
package common

import "fmt"

// ResourceKind identifies one of the three payable resource variants.
type ResourceKind string

const (
	KindLesson    ResourceKind = "lesson"    // single driving lesson booking
	KindHandledar ResourceKind = "handledar" // supervised group session booking
	KindPackage   ResourceKind = "package"   // package purchase (order)
)

// Valid reports whether k is one of the known kinds.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindLesson, KindHandledar, KindPackage:
		return true
	}
	return false
}

// ParseResourceKind parses the kind used in URLs and request bodies.
func ParseResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("okänd resurstyp %q: %w", s, ErrInvalidArgument)
	}
	return k, nil
}

// Decision is what an operator (or an emailed link) wants done with a payment.
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionDeny    Decision = "deny"
	DecisionRemind  Decision = "remind"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionConfirm, DecisionDeny, DecisionRemind:
		return true
	}
	return false
}

// ParseDecision parses a decision string.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if !d.Valid() {
		return "", fmt.Errorf("okänt beslut %q: %w", s, ErrInvalidArgument)
	}
	return d, nil
}

// PaymentStatus is the payment side of a resource.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// BookingStatus is the lifecycle of a booking, independent of payment.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)
