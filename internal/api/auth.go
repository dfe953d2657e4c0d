package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const providerKey ctxKey = iota

// authenticate resolves the bearer token to a provider identity and stores it
// in the request context. Requests without a resolvable identity get 401 and
// never reach a handler.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		providerID, ok := s.tokens[token]
		if !ok {
			writeError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		ctx := context.WithValue(r.Context(), providerKey, providerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// providerID returns the authenticated provider identity. The authenticate
// middleware guarantees it is present on any request that reaches a handler.
func providerID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(providerKey).(uuid.UUID)
	return id
}
