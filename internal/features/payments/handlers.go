// Package payments: handlers.go serves the three ways a decision arrives:
//
//	GET  /api/payment-actions?token=…                  preview of an emailed link
//	POST /api/payment-actions                          apply an emailed link
//	POST /api/admin/payments/{kind}/{id}/decision      operator decision
//	POST /api/admin/payments/{kind}/{id}/link          mint an emailed link
//	POST /api/webhooks/payments                        provider outcome
package payments

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/httpx"
)

// Handler serves payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates the payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// PublicRoutes mounts the token endpoints. The token is the only credential.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/payment-actions", h.HandlePreview)
	r.Post("/payment-actions", h.HandleApplyToken)
}

// AdminRoutes mounts the operator endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/payments/{kind}/{id}/decision", h.HandleDecision)
	r.Post("/payments/{kind}/{id}/link", h.HandleIssueLink)
}

// WebhookRoutes mounts the provider callback.
func (h *Handler) WebhookRoutes(r chi.Router) {
	r.Post("/payments", h.HandleWebhook)
}

func resourceFromURL(r *http.Request) (common.ResourceKind, uuid.UUID, error) {
	kind, err := common.ParseResourceKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		return "", uuid.Nil, err
	}
	return kind, id, nil
}

// HandlePreview shows what a link will do before the user confirms.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		httpx.WriteError(w, r, common.ErrInvalidToken)
		return
	}
	p, err := h.service.Preview(r.Context(), tok)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

type applyTokenRequest struct {
	Token    string `json:"token"`
	Decision string `json:"decision,omitempty"`
}

// HandleApplyToken applies an emailed link, optionally overriding its decision.
func (h *Handler) HandleApplyToken(w http.ResponseWriter, r *http.Request) {
	var req applyTokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var decision common.Decision
	if req.Decision != "" {
		d, err := common.ParseDecision(req.Decision)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		decision = d
	}

	out, err := h.service.ApplyToken(r.Context(), req.Token, decision)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

// HandleDecision applies an operator decision.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	kind, id, err := resourceFromURL(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	decision, err := common.ParseDecision(req.Decision)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	out, err := h.service.Apply(r.Context(), kind, id, decision)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleIssueLink mints a link for the resource. The body is optional.
func (h *Handler) HandleIssueLink(w http.ResponseWriter, r *http.Request) {
	kind, id, err := resourceFromURL(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	var decision common.Decision
	if req.Decision != "" {
		if decision, err = common.ParseDecision(req.Decision); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	link, err := h.service.IssueToken(r.Context(), kind, id, decision)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, link)
}

type webhookRequest struct {
	Kind    string    `json:"kind"`
	ID      uuid.UUID `json:"id"`
	Outcome string    `json:"outcome"`
}

// HandleWebhook applies a provider outcome.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	kind, err := common.ParseResourceKind(req.Kind)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	out, err := h.service.ApplyWebhook(r.Context(), kind, req.ID, req.Outcome)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
