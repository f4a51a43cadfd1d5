package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuthenticationFailed = errors.New("invalid username or password")
	ErrTokenInvalid         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrRefreshTokenInvalid  = errors.New("invalid refresh token")
	ErrMissingSecret        = errors.New("jwt signing secret is not configured")
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	s := int64(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		s++
	}
	return s
}

const (
	CloseAuthRequired = 4001
	CloseInvalidAuth  = 4002
)

type ConnectionAuthError struct {
	Code   int
	Reason string
}

func (e *ConnectionAuthError) Error() string {
	return fmt.Sprintf("connection auth failed (%d): %s", e.Code, e.Reason)
}
