// Package invoices: handlers.go serves the admin invoice endpoints:
//
//	POST /api/admin/invoices           create (or fetch) the invoice of a resource
//	GET  /api/admin/invoices/{invoiceID}
package invoices

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/httpx"
)

// Handler serves invoice endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates the invoice handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the handler under an admin router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/invoices", h.HandleCreate)
	r.Get("/invoices/{invoiceID}", h.HandleGet)
}

type createRequest struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

type itemResponse struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
}

type invoiceResponse struct {
	ID            uuid.UUID      `json:"id"`
	InvoiceNumber string         `json:"invoiceNumber"`
	UserID        uuid.UUID      `json:"userId"`
	ResourceKind  string         `json:"resourceKind"`
	ResourceID    uuid.UUID      `json:"resourceId"`
	Amount        string         `json:"amount"`
	Status        string         `json:"status"`
	IssuedAt      time.Time      `json:"issuedAt"`
	DueDate       string         `json:"dueDate"`
	PaidAt        *time.Time     `json:"paidAt,omitempty"`
	Items         []itemResponse `json:"items,omitempty"`
	Created       *bool          `json:"created,omitempty"`
}

func toResponse(inv *Invoice) invoiceResponse {
	out := invoiceResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		UserID:        inv.UserID,
		ResourceKind:  string(inv.ResourceKind),
		ResourceID:    inv.ResourceID,
		Amount:        inv.Amount.StringFixed(2),
		Status:        string(inv.Status),
		IssuedAt:      inv.IssuedAt,
		DueDate:       common.FormatDate(inv.DueDate),
		PaidAt:        inv.PaidAt,
	}
	for _, it := range inv.Items {
		out.Items = append(out.Items, itemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			TotalPrice:  it.TotalPrice.StringFixed(2),
		})
	}
	return out
}

// HandleCreate invoices a resource. 201 when a new invoice was issued,
// 200 with the existing one otherwise.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	kind, err := common.ParseResourceKind(req.Kind)
	if err != nil || req.ID == uuid.Nil {
		httpx.WriteError(w, r, common.ErrInvalidArgument)
		return
	}

	res, err := h.service.CreateForResource(r.Context(), kind, req.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	body := toResponse(res.Invoice)
	body.Created = &res.Created
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, body)
}

// HandleGet returns one invoice.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "invoiceID")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(inv))
}
