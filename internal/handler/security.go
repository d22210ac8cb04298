package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/perkmill/member-discounts/internal/domain/auth"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "api_key"

// RequireAPIKey returns a middleware that authenticates requests via
// HMAC-SHA256 hashed API keys: the presented key is hashed with the pepper,
// looked up, and compared in constant time.
func RequireAPIKey(apikeys auth.Repository, pepper []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				unauthorized(w)
				return
			}

			mac := hmac.New(sha256.New, pepper)
			mac.Write([]byte(key))
			hash := mac.Sum(nil)

			info, err := apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
			if err != nil {
				unauthorized(w)
				return
			}

			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	respondJSON(w, http.StatusUnauthorized, errorResponse{
		Code:    http.StatusUnauthorized,
		Message: "unauthorized",
	})
}
