package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
)

// Error codes carried in JSON error bodies.
const (
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeTokenRevoked        = "TOKEN_REVOKED"
	CodeRefreshTokenInvalid = "REFRESH_TOKEN_INVALID"
	CodeForbidden           = "FORBIDDEN"
	CodeAuthFailed          = "AUTHENTICATION_FAILED"
	CodeValidation          = "VALIDATION_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

type ctxKey int

const claimsKey ctxKey = 1

func withClaims(ctx context.Context, c *domainauth.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFromContext(ctx context.Context) (*domainauth.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*domainauth.AccessClaims)
	return c, ok
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
