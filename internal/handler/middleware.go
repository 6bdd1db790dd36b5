package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/auth"
)

// KeyValidator resolves an API key to its project
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (string, error)
}

// Authenticate resolves the caller's project from "Authorization: Bearer" or
// X-Project-Key and stores it in the request context.
func Authenticate(v KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKeyFrom(r)
			if key == "" {
				writeMessage(w, http.StatusUnauthorized, "Missing API key")
				return
			}

			projectID, err := v.ValidateAPIKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidKey) || errors.Is(err, auth.ErrInvalidFormat) {
					writeMessage(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				log.Error().Err(err).Msg("API key validation failed")
				writeMessage(w, http.StatusServiceUnavailable, "upstream unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithProject(r.Context(), projectID)))
		})
	}
}

func apiKeyFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Project-Key"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
