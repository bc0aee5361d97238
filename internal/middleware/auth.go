package middleware

import (
	"crypto/subtle"
	"net/http"
)

// HeaderSharedSecret carries the shared secret on every internal request.
const HeaderSharedSecret = "X-Sentra-Secret"

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// SharedSecret returns middleware that requires the shared secret header on
// every request. An empty configured secret disables the check entirely
// (local development). WebSocket clients may pass the secret as a ?secret=
// query parameter since browsers cannot set headers on upgrade requests.
func SharedSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(HeaderSharedSecret)
			if got == "" {
				got = r.URL.Query().Get("secret")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, `{"error":"invalid or missing shared secret"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
