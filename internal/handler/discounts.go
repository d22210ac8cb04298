package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perkmill/member-discounts/internal/domain/discount"
)

// discountRequest is the admin form payload. Status is accepted but
// ignored: saved rules are always published.
type discountRequest struct {
	Title   string `json:"title"`
	TierID  string `json:"tier_id"`
	Percent int64  `json:"percent"`
	Status  string `json:"status,omitempty"`
}

type discountResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	TierID     string    `json:"tier_id"`
	Percent    int64     `json:"percent"`
	UsageCount int64     `json:"usage_count"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type tierResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func toDiscountResponse(r *discount.Rule) discountResponse {
	return discountResponse{
		ID:         r.ID,
		Title:      r.Title,
		TierID:     r.TierID,
		Percent:    r.Percent,
		UsageCount: r.UsageCount,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}
}

func (h *Handler) createDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.TierID == "" {
		respondBadRequest(w, "tier_id required")
		return
	}

	rule := &discount.Rule{
		ID:      uuid.New().String(),
		Title:   req.Title,
		TierID:  req.TierID,
		Percent: req.Percent,
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toDiscountResponse(rule))
}

func (h *Handler) updateDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.TierID == "" {
		respondBadRequest(w, "tier_id required")
		return
	}

	rule := &discount.Rule{
		ID:      chi.URLParam(r, "id"),
		Title:   req.Title,
		TierID:  req.TierID,
		Percent: req.Percent,
	}
	if err := h.rules.Update(r.Context(), rule); err != nil {
		respondError(w, r, err)
		return
	}

	updated, err := h.rules.GetByID(r.Context(), rule.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDiscountResponse(updated))
}

func (h *Handler) getDiscount(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDiscountResponse(rule))
}

func (h *Handler) listDiscounts(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]discountResponse, len(rules))
	for i := range rules {
		out[i] = toDiscountResponse(&rules[i])
	}
	respondJSON(w, http.StatusOK, out)
}
