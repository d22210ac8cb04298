package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/perkmill/member-discounts/internal/checkout"
)

type evaluateRequest struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type feeResponse struct {
	Key    string          `json:"key"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type evaluateResponse struct {
	Fee               *feeResponse `json:"fee"`
	PendingDiscountID string       `json:"pending_discount_id,omitempty"`
}

// evaluateCart runs one cart evaluation for the session. The response
// reports the resulting fee-ledger state; a null fee means no discount
// applies and any prior fee under the discount key was removed.
func (h *Handler) evaluateCart(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondBadRequest(w, "session_id required")
		return
	}

	res := h.checkout.Evaluate(r.Context(), checkout.EvaluateRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Subtotal:  req.Subtotal,
	})

	out := evaluateResponse{PendingDiscountID: res.PendingDiscountID}
	if res.Fee != nil {
		out.Fee = &feeResponse{
			Key:    res.Fee.Key,
			Label:  res.Fee.Label,
			Amount: res.Fee.Amount,
		}
	}
	respondJSON(w, http.StatusOK, out)
}
