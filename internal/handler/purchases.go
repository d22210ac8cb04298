package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/perkmill/member-discounts/internal/domain/purchase"
)

type createPurchaseRequest struct {
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
}

type purchaseResponse struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id,omitempty"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Total             decimal.Decimal `json:"total"`
	Status            string          `json:"status"`
	AppliedDiscountID string          `json:"applied_discount_id,omitempty"`
}

type statusChangeRequest struct {
	Status string `json:"status"`
}

// createPurchase mirrors the commerce system's payment-created event: the
// purchase record is stored and the session's pending discount, if any, is
// linked to it.
func (h *Handler) createPurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondBadRequest(w, "session_id required")
		return
	}

	p := &purchase.Purchase{
		ID:       req.ID,
		UserID:   req.UserID,
		Subtotal: req.Subtotal,
		Total:    req.Total,
		Status:   purchase.StatusPending,
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	if err := h.purchases.Create(r.Context(), p); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.checkout.PurchaseCreated(r.Context(), purchase.CreatedEvent{
		PurchaseID: p.ID,
		SessionID:  req.SessionID,
	}); err != nil {
		respondError(w, r, err)
		return
	}

	created, err := h.purchases.GetByID(r.Context(), p.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toPurchaseResponse(created))
}

// updatePurchaseStatus mirrors the commerce system's status-changed event.
// The transition into a completed state bumps the applied rule's usage
// counter, guarded against re-firing.
func (h *Handler) updatePurchaseStatus(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.Status == "" {
		respondBadRequest(w, "status required")
		return
	}

	id := chi.URLParam(r, "id")
	newStatus := purchase.Status(req.Status)

	oldStatus, err := h.purchases.UpdateStatus(r.Context(), id, newStatus)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.checkout.StatusChanged(r.Context(), purchase.StatusChangedEvent{
		PurchaseID: id,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
	}); err != nil {
		respondError(w, r, err)
		return
	}

	updated, err := h.purchases.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPurchaseResponse(updated))
}

func toPurchaseResponse(p *purchase.Purchase) purchaseResponse {
	return purchaseResponse{
		ID:                p.ID,
		UserID:            p.UserID,
		Subtotal:          p.Subtotal,
		Total:             p.Total,
		Status:            string(p.Status),
		AppliedDiscountID: p.AppliedDiscountID,
	}
}
