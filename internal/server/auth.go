package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/concierge-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check. Tokens are compared as SHA-256 digests in
// constant time and are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		got := sha256.Sum256([]byte(token))
		if token != "" && subtle.ConstantTimeCompare(got[:], want[:]) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		challenge, msg := `Bearer realm="concierge"`, "authorization required"
		if token != "" {
			challenge, msg = `Bearer realm="concierge", error="invalid_token"`, "invalid token"
		}
		logging.FromContext(r.Context()).Warn("auth: rejected",
			slog.String("path", r.URL.Path),
			slog.Bool("token_present", token != ""),
		)
		w.Header().Set("WWW-Authenticate", challenge)
		writeJSONError(w, r, msg, http.StatusUnauthorized)
	})
}

// bearerToken returns the token of a "Bearer <token>" Authorization header,
// or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
