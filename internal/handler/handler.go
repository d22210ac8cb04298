// Package handler exposes the service over a JSON HTTP API: rule
// administration, checkout evaluation, purchase lifecycle events, and
// license settings.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perkmill/member-discounts/internal/checkout"
	"github.com/perkmill/member-discounts/internal/domain/discount"
	"github.com/perkmill/member-discounts/internal/domain/membership"
	"github.com/perkmill/member-discounts/internal/domain/purchase"
	"github.com/perkmill/member-discounts/internal/license"
)

// TierLister exposes the membership tiers for the admin rule form.
type TierLister interface {
	ListTiers(ctx context.Context) ([]membership.Tier, error)
}

// Handler wires the domain services into chi routes.
type Handler struct {
	rules     discount.Repository
	purchases purchase.Repository
	tiers     TierLister
	checkout  *checkout.Service
	activator *license.Activator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	rules discount.Repository,
	purchases purchase.Repository,
	tiers TierLister,
	checkoutSvc *checkout.Service,
	activator *license.Activator,
) *Handler {
	return &Handler{
		rules:     rules,
		purchases: purchases,
		tiers:     tiers,
		checkout:  checkoutSvc,
		activator: activator,
	}
}

// Routes builds the API router. The auth middleware is applied by the caller
// so tests can mount the routes bare.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/discounts", func(r chi.Router) {
		r.Get("/", h.listDiscounts)
		r.Post("/", h.createDiscount)
		r.Get("/{id}", h.getDiscount)
		r.Put("/{id}", h.updateDiscount)
	})

	r.Post("/checkout/evaluate", h.evaluateCart)

	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", h.createPurchase)
		r.Post("/{id}/status", h.updatePurchaseStatus)
	})

	r.Route("/license", func(r chi.Router) {
		r.Post("/activate", h.activateLicense)
		r.Get("/status", h.licenseStatus)
	})

	r.Get("/tiers", h.listTiers)

	return r
}

func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.tiers.ListTiers(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]tierResponse, len(tiers))
	for i, t := range tiers {
		out[i] = tierResponse{ID: t.ID, Name: t.Name}
	}
	respondJSON(w, http.StatusOK, out)
}
