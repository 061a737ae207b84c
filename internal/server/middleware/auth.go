package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKey guards read-only requests with a static key sent either as a
// Bearer token or in X-API-Key. Mutating requests are left to Signed.
// Paths in open bypass the check. An empty key disables it.
//
// apiKey may be a bcrypt hash (as printed by "flasharb hash-api-key"), in
// which case tokens are checked against the hash.
func APIKey(apiKey string, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	match := keyMatcher(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || !isSafeMethod(r.Method) || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if !match(token) {
				writeError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsBcryptHash reports whether s looks like a bcrypt hash.
func IsBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

func keyMatcher(apiKey string) func(token string) bool {
	if !IsBcryptHash(apiKey) {
		return func(token string) bool {
			return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
		}
	}
	// Accepted tokens are remembered by digest so the bcrypt cost is paid
	// once per token, not per request.
	var accepted sync.Map
	return func(token string) bool {
		sum := sha256.Sum256([]byte(token))
		if _, ok := accepted.Load(sum); ok {
			return true
		}
		if bcrypt.CompareHashAndPassword([]byte(apiKey), []byte(token)) != nil {
			return false
		}
		accepted.Store(sum, struct{}{})
		return true
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
