package handler

import (
	"encoding/json"
	"net/http"
)

type activateLicenseRequest struct {
	Key string `json:"key"`
}

type licenseStatusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) activateLicense(w http.ResponseWriter, r *http.Request) {
	var req activateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.Key == "" {
		respondBadRequest(w, "key required")
		return
	}

	if err := h.activator.Activate(r.Context(), req.Key); err != nil {
		respondError(w, r, err)
		return
	}

	status, err := h.activator.Status(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, licenseStatusResponse{Status: status})
}

func (h *Handler) licenseStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.activator.Status(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, licenseStatusResponse{Status: status})
}
