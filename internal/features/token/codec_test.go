package token

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafikskola.se/payments/internal/common"
)

func newCodec(t *testing.T, secret string, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(secret, opts...)
	require.NoError(t, err)
	return c
}

// signed builds a token with arbitrary claims under c's key.
func signed(t *testing.T, c *Codec, method jwt.SigningMethod, cl jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, cl).SignedString(c.key)
	require.NoError(t, err)
	return tok
}

func TestNewCodec_MissingKey(t *testing.T) {
	_, err := NewCodec("   ")
	assert.ErrorIs(t, err, common.ErrSigningKeyMissing)
}

func TestRoundTrip(t *testing.T) {
	c := newCodec(t, "secret-a")

	kinds := []common.ResourceKind{common.KindLesson, common.KindHandledar, common.KindPackage}
	decisions := []common.Decision{"", common.DecisionConfirm, common.DecisionDeny, common.DecisionRemind}

	for _, k := range kinds {
		for _, d := range decisions {
			t.Run(string(k)+"/"+string(d), func(t *testing.T) {
				id := uuid.New()
				tok, err := c.Encode(k, id, d)
				require.NoError(t, err)

				a, err := c.Decode(tok)
				require.NoError(t, err)
				assert.Equal(t, k, a.Kind)
				assert.Equal(t, id, a.ResourceID)
				assert.Equal(t, d, a.SuggestedDecision)
				assert.NotEmpty(t, a.ID)
				assert.Nil(t, a.ExpiresAt)
			})
		}
	}
}

func TestDecode_OtherKeyRejected(t *testing.T) {
	tok, err := newCodec(t, "secret-a").Encode(common.KindLesson, uuid.New(), common.DecisionConfirm)
	require.NoError(t, err)

	_, err = newCodec(t, "secret-b").Decode(tok)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestDecode_MutatedPayloadRejected(t *testing.T) {
	c := newCodec(t, "secret-a")
	tok, err := c.Encode(common.KindLesson, uuid.New(), common.DecisionRemind)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(body), `"remind"`, `"confirm"`, 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = c.Decode(strings.Join(parts, "."))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestDecode_Garbage(t *testing.T) {
	c := newCodec(t, "secret-a")
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	for _, tok := range []string{"", "abc", "a.b.c", "a.b", header + ".x.y"} {
		_, err := c.Decode(tok)
		assert.ErrorIs(t, err, common.ErrInvalidToken, tok)
	}
}

func TestDecode_WrongKindIsInvalidToken(t *testing.T) {
	c := newCodec(t, "secret-a")
	// correctly signed, but not a payment action
	tok := signed(t, c, jwt.SigningMethodHS256, jwt.MapClaims{"type": "password_reset", "bookingId": uuid.NewString()})

	_, err := c.Decode(tok)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestDecode_LegacyLinkWithoutSessionType(t *testing.T) {
	c := newCodec(t, "secret-a")
	id := uuid.New()
	tok := signed(t, c, jwt.SigningMethodHS256, jwt.MapClaims{"type": "swish_action", "bookingId": id.String(), "decision": "confirm"})

	a, err := c.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, common.KindLesson, a.Kind)
	assert.Equal(t, id, a.ResourceID)
	assert.Equal(t, common.DecisionConfirm, a.SuggestedDecision)
	assert.Empty(t, a.ID)
}

func TestEncode_CompactHS256Header(t *testing.T) {
	c := newCodec(t, "secret-a")
	tok, err := c.Encode(common.KindHandledar, uuid.New(), "")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(header))

	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"sessionType":"handledar"`)
	assert.Contains(t, string(body), `"jti":`)
	assert.NotContains(t, string(body), `"exp"`)
}

func TestDecode_OnlyHS256Accepted(t *testing.T) {
	c := newCodec(t, "secret-a")
	cl := jwt.MapClaims{"type": "swish_action", "bookingId": uuid.NewString(), "decision": "confirm"}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, cl).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = c.Decode(unsigned)
	assert.ErrorIs(t, err, common.ErrInvalidToken, "alg none")

	_, err = c.Decode(signed(t, c, jwt.SigningMethodHS512, cl))
	assert.ErrorIs(t, err, common.ErrInvalidToken, "HS512")

	_, err = c.Decode(signed(t, c, jwt.SigningMethodHS256, cl))
	assert.NoError(t, err)
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newCodec(t, "secret-a", WithTTL(time.Hour), WithClock(clock))

	tok, err := c.Encode(common.KindPackage, uuid.New(), common.DecisionConfirm)
	require.NoError(t, err)

	a, err := c.Decode(tok)
	require.NoError(t, err)
	require.NotNil(t, a.ExpiresAt)

	now = now.Add(2 * time.Hour)
	_, err = c.Decode(tok)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestEncode_RejectsBadInput(t *testing.T) {
	c := newCodec(t, "secret-a")

	_, err := c.Encode("car", uuid.New(), "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = c.Encode(common.KindLesson, uuid.Nil, "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = c.Encode(common.KindLesson, uuid.New(), "refund")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestNoReplayGuard(t *testing.T) {
	g := NoReplayGuard{}
	for i := 0; i < 3; i++ {
		ok, err := g.Claim(context.Background(), "same")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
