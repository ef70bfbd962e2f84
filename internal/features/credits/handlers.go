// Package credits: handlers.go serves the admin ledger endpoints:
//
//	GET    /api/admin/users/{userID}/credits
//	GET    /api/admin/users/{userID}/credits/history
//	POST   /api/admin/users/{userID}/credits/grant
//	POST   /api/admin/users/{userID}/credits/deduct
//	DELETE /api/admin/users/{userID}/credits/{creditID}
package credits

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/users"
	"trafikskola.se/payments/internal/httpx"
)

// UserLookup resolves the account a manual grant or deduction is for.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// Handler serves ledger endpoints.
type Handler struct {
	ledger *Ledger
	users  UserLookup
}

// NewHandler creates the ledger handler. With a nil lookup the user id is
// not checked before grants.
func NewHandler(ledger *Ledger, lookup UserLookup) *Handler {
	return &Handler{ledger: ledger, users: lookup}
}

// Routes mounts the handler under an admin router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/users/{userID}/credits", func(r chi.Router) {
		r.Get("/", h.HandleBalances)
		r.Get("/history", h.HandleHistory)
		r.Post("/grant", h.HandleGrant)
		r.Post("/deduct", h.HandleDeduct)
		r.Delete("/{creditID}", h.HandleRemove)
	})
}

type recordResponse struct {
	ID                 uuid.UUID  `json:"id"`
	CreditType         CreditType `json:"creditType"`
	LessonTypeID       *uuid.UUID `json:"lessonTypeId,omitempty"`
	HandledarSessionID *uuid.UUID `json:"handledarSessionId,omitempty"`
	CreditsRemaining   int        `json:"creditsRemaining"`
	CreditsTotal       int        `json:"creditsTotal"`
	PackageID          *uuid.UUID `json:"packageId,omitempty"`
	Label              string     `json:"label"`
}

func toRecordResponse(rec *Record) recordResponse {
	lt, hs := Columns(rec.Target)
	return recordResponse{
		ID:                 rec.ID,
		CreditType:         rec.Target.Type(),
		LessonTypeID:       lt,
		HandledarSessionID: hs,
		CreditsRemaining:   rec.CreditsRemaining,
		CreditsTotal:       rec.CreditsTotal,
		PackageID:          rec.PackageID,
		Label:              common.FormatCredits(rec.CreditsRemaining),
	}
}

type transactionResponse struct {
	Target    string    `json:"target"`
	Delta     int       `json:"delta"`
	Reason    Reason    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type amountRequest struct {
	CreditType         CreditType `json:"creditType"`
	LessonTypeID       *uuid.UUID `json:"lessonTypeId,omitempty"`
	HandledarSessionID *uuid.UUID `json:"handledarSessionId,omitempty"`
	Amount             int        `json:"amount"`
}

func (req amountRequest) target() (Target, error) {
	t, err := TargetFromColumns(req.CreditType, req.LessonTypeID, req.HandledarSessionID)
	if err != nil {
		return nil, common.ErrInvalidArgument
	}
	return t, nil
}

// HandleBalances lists the user's credit records.
func (h *Handler) HandleBalances(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	recs, err := h.ledger.Balances(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleHistory lists the user's recent ledger movements.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	txs, err := h.ledger.History(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			Target:    tx.Target.String(),
			Delta:     tx.Delta,
			Reason:    tx.Reason,
			CreatedAt: tx.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleGrant adds credits manually.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	h.handleAmount(w, r, func(userID uuid.UUID, t Target, amount int) (*Record, error) {
		return h.ledger.Grant(r.Context(), userID, t, amount, GrantOptions{Reason: ReasonGrant})
	})
}

// HandleDeduct spends credits manually.
func (h *Handler) HandleDeduct(w http.ResponseWriter, r *http.Request) {
	h.handleAmount(w, r, func(userID uuid.UUID, t Target, amount int) (*Record, error) {
		return h.ledger.Deduct(r.Context(), userID, t, amount)
	})
}

func (h *Handler) handleAmount(w http.ResponseWriter, r *http.Request, op func(uuid.UUID, Target, int) (*Record, error)) {
	userID, err := httpx.URLUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	target, err := req.target()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if h.users != nil {
		if _, err := h.users.GetByID(r.Context(), userID); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	rec, err := op(userID, target, req.Amount)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleRemove deletes one credit record of the user.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLUUID(r, "userID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	creditID, err := httpx.URLUUID(r, "creditID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.ledger.RemoveAll(r.Context(), creditID, userID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
