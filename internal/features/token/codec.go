// Package token encodes and decodes signed payment action links.
//
// A token is a compact HS256 JWT whose claims keep the field names of the
// links already sitting in customers' inboxes:
//
//	{"type":"swish_action","bookingId":"…","sessionType":"regular|handledar|order",
//	 "decision":"confirm|deny|remind","jti":"…","iat":…,"exp":…}
//
// bookingId is the id of whichever resource sessionType names.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/metrics"
)

const payloadType = "swish_action"

// wire names of the resource kinds
const (
	sessionRegular   = "regular"
	sessionHandledar = "handledar"
	sessionOrder     = "order"
)

func sessionTypeOf(k common.ResourceKind) string {
	switch k {
	case common.KindHandledar:
		return sessionHandledar
	case common.KindPackage:
		return sessionOrder
	}
	return sessionRegular
}

func kindOf(sessionType string) (common.ResourceKind, bool) {
	switch sessionType {
	case "", sessionRegular:
		return common.KindLesson, true
	case sessionHandledar:
		return common.KindHandledar, true
	case sessionOrder:
		return common.KindPackage, true
	}
	return "", false
}

type claims struct {
	Type        string `json:"type"`
	BookingID   string `json:"bookingId"`
	SessionType string `json:"sessionType,omitempty"`
	Decision    string `json:"decision,omitempty"`
	jwt.RegisteredClaims
}

// Action is a decoded token.
type Action struct {
	Kind              common.ResourceKind
	ResourceID        uuid.UUID
	SuggestedDecision common.Decision // empty when the link carries none
	// ID identifies this token for single-use tracking. Empty for links
	// minted before ids were added.
	ID        string
	ExpiresAt *time.Time
}

// Codec signs and verifies action tokens with one process-wide secret.
type Codec struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTL makes new tokens expire after d. Zero keeps them valid forever.
func WithTTL(d time.Duration) Option {
	return func(c *Codec) { c.ttl = d }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec. An empty secret returns common.ErrSigningKeyMissing;
// the caller is expected to stop the process.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, common.ErrSigningKeyMissing
	}
	c := &Codec{key: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	// only HS256 verifies, so "alg: none" and algorithm swaps fail
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

// Encode produces a signed token for (kind, id, decision). decision may be
// empty.
func (c *Codec) Encode(kind common.ResourceKind, id uuid.UUID, decision common.Decision) (string, error) {
	if !kind.Valid() || id == uuid.Nil {
		return "", common.ErrInvalidArgument
	}
	if decision != "" && !decision.Valid() {
		return "", common.ErrInvalidArgument
	}

	now := c.now()
	cl := claims{
		Type:        payloadType,
		BookingID:   id.String(),
		SessionType: sessionTypeOf(kind),
		Decision:    string(decision),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if c.ttl > 0 {
		cl.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.key)
}

// Decode verifies and parses a token. Every failure is common.ErrInvalidToken.
func (c *Codec) Decode(tok string) (*Action, error) {
	a, ok := c.decode(tok)
	if !ok {
		metrics.ObserveTokenDecode(common.ErrInvalidToken)
		return nil, common.ErrInvalidToken
	}
	metrics.ObserveTokenDecode(nil)
	return a, nil
}

func (c *Codec) decode(tok string) (*Action, bool) {
	var cl claims
	_, err := c.parser.ParseWithClaims(strings.TrimSpace(tok), &cl, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil || cl.Type != payloadType {
		return nil, false
	}

	kind, ok := kindOf(cl.SessionType)
	if !ok {
		return nil, false
	}
	id, err := uuid.Parse(cl.BookingID)
	if err != nil || id == uuid.Nil {
		return nil, false
	}
	decision := common.Decision(cl.Decision)
	if decision != "" && !decision.Valid() {
		return nil, false
	}

	a := &Action{
		Kind:              kind,
		ResourceID:        id,
		SuggestedDecision: decision,
		ID:                cl.ID,
	}
	if cl.ExpiresAt != nil {
		exp := cl.ExpiresAt.Time
		a.ExpiresAt = &exp
	}
	return a, true
}
