// Package cancellation: handlers.go serves
//
//	POST /api/admin/bookings/bulk-delete
package cancellation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"trafikskola.se/payments/internal/httpx"
)

// Handler serves the bulk delete endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates the handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the handler under an admin router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bookings/bulk-delete", h.HandleBulkDelete)
}

type bulkDeleteRequest struct {
	IDs               []uuid.UUID `json:"ids"`
	ReimburseCredits  bool        `json:"reimburseCredits"`
	SendNotifications bool        `json:"sendNotifications"`
	Operator          Operator    `json:"operator"`
}

// HandleBulkDelete deletes the listed bookings and reports the statistics.
func (h *Handler) HandleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	stats, err := h.service.BulkCancel(r.Context(), Request{
		IDs:               req.IDs,
		ReimburseCredits:  req.ReimburseCredits,
		SendNotifications: req.SendNotifications,
		Operator:          req.Operator,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}
