// Package signing guards operator-only endpoints with a shared bearer secret.
// Both sides are run through HMAC before comparison so the check takes the
// same time regardless of how much of the secret a caller guessed.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// Guard validates Authorization headers against a configured secret.
type Guard struct {
	secret []byte
	key    []byte
}

// NewGuard creates a Guard. An empty secret disables the check.
func NewGuard(secret string) *Guard {
	return &Guard{secret: []byte(secret), key: []byte("codedrop-cron")}
}

// Enabled reports whether a secret is configured.
func (g *Guard) Enabled() bool { return len(g.secret) > 0 }

func (g *Guard) digest(v []byte) []byte {
	mac := hmac.New(sha256.New, g.key)
	mac.Write(v)
	return mac.Sum(nil)
}

// Authorized reports whether header carries "Bearer <secret>".
func (g *Guard) Authorized(header string) bool {
	if !g.Enabled() {
		return true
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	return hmac.Equal(g.digest([]byte(presented)), g.digest(g.secret))
}

// Middleware rejects requests without the secret with 401.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authorized(r.Header.Get("Authorization")) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
