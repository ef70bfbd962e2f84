// Package common: errors.go defines the domain errors shared by every
// feature package. Handlers use them to pick a status code and a message
// the operator can act on.
package common

import (
	"errors"
	"fmt"
)

// Credit ledger errors
var (
	// ErrInsufficientCredits: the deduction would take the balance below zero
	ErrInsufficientCredits = errors.New("otillräckligt antal krediter")
	// ErrNoSuchCredit: no credit record exists for the identity tuple
	ErrNoSuchCredit = errors.New("krediter saknas för angiven typ")
	// ErrCreditNotFound: record id unknown or owned by another user
	ErrCreditNotFound = errors.New("kreditposten hittades inte")
	// ErrInvalidAmount: zero or negative amount
	ErrInvalidAmount = errors.New("antalet måste vara positivt")
)

// Action token errors
var (
	// ErrInvalidToken covers every decode failure: bad signature, bad payload,
	// wrong kind or expiry. Callers cannot tell them apart.
	ErrInvalidToken = errors.New("ogiltig eller manipulerad länk")
	// ErrSigningKeyMissing: the codec was built without a secret (startup-fatal)
	ErrSigningKeyMissing = errors.New("signing key is not configured")
	// ErrTokenUsed: single-use tracking is enabled and the link was already used
	ErrTokenUsed = errors.New("länken har redan använts")
	// ErrDecisionRequired: no decision given and the token carries no suggestion
	ErrDecisionRequired = errors.New("beslut saknas")
)

// Generic lookup / validation errors
var (
	ErrNotFound        = errors.New("hittades inte")
	ErrInvalidArgument = errors.New("ogiltig förfrågan")
	ErrUserNotFound    = errors.New("användaren hittades inte")
	// ErrGuestResource: the operation needs a registered owner (e.g. invoicing)
	ErrGuestResource = errors.New("resursen saknar registrerad användare")
	// ErrDuplicate: a unique key already exists (e.g. a second invoice for one resource)
	ErrDuplicate = errors.New("posten finns redan")
	// ErrUnauthorized: admin key or webhook secret missing or wrong
	ErrUnauthorized = errors.New("behörighet saknas")
)

// ResourceNotFoundError is returned when a payable resource id does not
// resolve. The message depends on the kind so the public page can show
// "Bokning saknas" or "Order saknas".
type ResourceNotFoundError struct {
	Kind ResourceKind
}

func (e *ResourceNotFoundError) Error() string {
	if e.Kind == KindPackage {
		return "Order saknas"
	}
	return "Bokning saknas"
}

// Is lets errors.Is(err, ErrNotFound) match any resource kind.
func (e *ResourceNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewResourceNotFound builds a ResourceNotFoundError for the kind.
func NewResourceNotFound(kind ResourceKind) error {
	return &ResourceNotFoundError{Kind: kind}
}

// WrapNotFound annotates a lookup miss with the id that was asked for.
func WrapNotFound(kind ResourceKind, id fmt.Stringer) error {
	return fmt.Errorf("%s %s: %w", kind, id, NewResourceNotFound(kind))
}
