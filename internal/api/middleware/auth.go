package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/httpx"
)

// AdminKeyHeader carries the operator key. "Authorization: Bearer <key>"
// is accepted too.
const AdminKeyHeader = "X-Admin-Key"

// WebhookSecretHeader carries the shared secret of the payment provider.
const WebhookSecretHeader = "X-Webhook-Secret"

// AdminAuth checks the operator key against an Argon2id hash.
//
// Brute-force protection: maxFailures wrong keys from one IP within
// lockout block that IP until the window passes. A correct key resets the
// counter.
type AdminAuth struct {
	hash     string
	failures *RateLimiter

	// argon2id costs 64 MB per check; a verified key is remembered by its
	// SHA-256 so steady admin traffic does not pay it every time.
	mu       sync.Mutex
	verified map[[32]byte]struct{}
}

// NewAdminAuth creates the checker. encodedHash is in the
// $argon2id$v=19$m=…,t=…,p=…$salt$hash format of scripts/generate_hash.go.
func NewAdminAuth(encodedHash string, maxFailures int, lockout time.Duration) *AdminAuth {
	return &AdminAuth{
		hash:     encodedHash,
		failures: NewRateLimiter(maxFailures, lockout),
		verified: make(map[[32]byte]struct{}),
	}
}

// Close stops the failure counter cleanup.
func (a *AdminAuth) Close() { a.failures.Close() }

// Verify reports whether key matches the configured hash.
func (a *AdminAuth) Verify(key string) bool {
	if key == "" {
		return false
	}
	sum := sha256.Sum256([]byte(key))

	a.mu.Lock()
	_, ok := a.verified[sum]
	a.mu.Unlock()
	if ok {
		return true
	}

	if !verifyArgon2id(key, a.hash) {
		return false
	}
	a.mu.Lock()
	a.verified[sum] = struct{}{}
	a.mu.Unlock()
	return true
}

// Middleware rejects requests without a valid admin key.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if a.failures.Blocked(ip) {
			log.WithField("ip", ip).Warn("Admin key locked out")
			httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{Error: "för många misslyckade försök, försök igen senare"})
			return
		}

		if !a.Verify(adminKey(r)) {
			a.failures.Allow(ip)
			log.WithFields(log.Fields{"ip": ip, "path": r.URL.Path}).Warn("Invalid admin key")
			httpx.WriteError(w, r, common.ErrUnauthorized)
			return
		}
		a.failures.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

func adminKey(r *http.Request) string {
	if k := r.Header.Get(AdminKeyHeader); k != "" {
		return k
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}

// verifyArgon2id checks password against an encoded Argon2id hash.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Malformed Argon2id hash")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Failed to parse Argon2id parameters")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Failed to decode Argon2id salt")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Failed to decode Argon2id hash")
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// WebhookSecret rejects requests whose secret header differs from secret.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(WebhookSecretHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				log.WithField("ip", clientIP(r)).Warn("Invalid webhook secret")
				httpx.WriteError(w, r, common.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
