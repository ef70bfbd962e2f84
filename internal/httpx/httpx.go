// Package httpx holds the JSON plumbing shared by the feature handlers:
// decoding bodies, writing responses and turning domain errors into a
// status code with a message the admin panel can show as is.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/common"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

// DecodeJSON reads a JSON body into dst. Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("ogiltig JSON: %w", common.ErrInvalidArgument)
	}
	return nil
}

// URLUUID parses a chi path parameter as a UUID.
func URLUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("ogiltigt id %q: %w", name, common.ErrInvalidArgument)
	}
	return id, nil
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	var notFound *common.ResourceNotFoundError
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrNoSuchCredit),
		errors.Is(err, common.ErrCreditNotFound),
		errors.Is(err, common.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrInvalidArgument),
		errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrDecisionRequired):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInsufficientCredits),
		errors.Is(err, common.ErrTokenUsed),
		errors.Is(err, common.ErrGuestResource),
		errors.Is(err, common.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// MessageFor returns the user-facing text for err. Internal errors are
// not echoed.
func MessageFor(err error) string {
	var notFound *common.ResourceNotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	for _, known := range []error{
		common.ErrInvalidToken, common.ErrInsufficientCredits, common.ErrNoSuchCredit,
		common.ErrCreditNotFound, common.ErrInvalidAmount, common.ErrTokenUsed,
		common.ErrDecisionRequired, common.ErrUserNotFound, common.ErrGuestResource,
		common.ErrDuplicate, common.ErrUnauthorized, common.ErrNotFound,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, common.ErrInvalidArgument) {
		return err.Error()
	}
	return "internt fel"
}

// WriteError logs server-side failures and writes the mapped response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	WriteJSON(w, status, ErrorBody{Error: MessageFor(err)})
}
