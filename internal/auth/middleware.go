// Package auth guards the voice webhook routes with the single static
// bearer credential the skill is registered with.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Bearer holds the configured token. An empty token disables the routes
// entirely rather than leaving them open.
type Bearer struct {
	token  string
	logger zerolog.Logger
}

func NewBearer(token string, logger zerolog.Logger) *Bearer {
	return &Bearer{token: token, logger: logger}
}

// Authenticate checks the Authorization header of req. The comparison is
// constant-time so a probing caller learns nothing about the token from
// response timing.
func (b *Bearer) Authenticate(req *http.Request) bool {
	if b.token == "" {
		return false
	}
	authz := req.Header.Get("Authorization")
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return false
	}
	presented := strings.TrimSpace(authz[7:])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(b.token)) == 1
}

// Middleware rejects unauthenticated requests with a terse 401. Failures
// go to the log, never into response bodies, so a voice platform relaying
// the reply cannot leak why auth failed.
func (b *Bearer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !b.Authenticate(req) {
			b.logAttempt(req)
			w.Header().Set("WWW-Authenticate", `Bearer realm="voice"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (b *Bearer) logAttempt(req *http.Request) {
	authz := req.Header.Get("Authorization")
	authType := ""
	if i := strings.IndexByte(authz, ' '); i > 0 {
		authType = strings.ToLower(authz[:i])
	}
	b.logger.Info().
		Bool("auth_success", false).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("user_agent", req.Header.Get("User-Agent")).
		Str("auth_type", authType).
		Msg("auth attempt")
}
