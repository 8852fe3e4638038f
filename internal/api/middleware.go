// Package api implements the HTTP surface of the sync engine using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware guards the vault API with a static bearer token. With
// enabled false every request passes.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			switch {
			case !ok:
				denyVault(w, "missing bearer token")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				denyVault(w, "invalid bearer token")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// bearerToken returns the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}

func denyVault(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ansuz"`)
	writeJSON(w, http.StatusUnauthorized, errorBody(msg))
}
