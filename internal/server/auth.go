// internal/server/auth.go
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// requireBearer rejects requests whose Authorization header does not carry
// secret as a bearer token. An empty secret leaves the routes open.
func requireBearer(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		want := []byte(secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				logger.Info("Rejected unauthorized request.", zap.String("path", r.URL.Path), zap.Bool("header_present", header != ""))
				w.Header().Set("WWW-Authenticate", `Bearer realm="mailpilot"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
