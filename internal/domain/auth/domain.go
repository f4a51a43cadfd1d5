package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenTypeAccess = "access"

type AccessClaims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

type RefreshToken struct {
	ID         int64
	UserID     int64
	TokenHash  string
	ExpiresAt  time.Time
	DeviceInfo string
	IPAddress  string
	LastUsedAt *time.Time
	IsRevoked  bool
	CreatedAt  time.Time
}

// IssuedRefreshToken carries the only copy of the plaintext token.
type IssuedRefreshToken struct {
	Plaintext string
	ID        int64
	ExpiresAt time.Time
}

type RefreshTokenInfo struct {
	ID        int64
	UserID    int64
	ExpiresAt time.Time
}

type BlacklistEntry struct {
	TokenJTI  string
	UserID    int64
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}

type LoginAttempt struct {
	ID          int64     `json:"id"`
	IPAddress   string    `json:"ipAddress"`
	Username    string    `json:"username"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attemptedAt"`
	UserAgent   string    `json:"userAgent,omitempty"`
}

type AttackingIP struct {
	IPAddress     string    `json:"ipAddress"`
	FailedCount   int       `json:"failedCount"`
	UsernameCount int       `json:"usernameCount"`
	LastAttempt   time.Time `json:"lastAttempt"`
}

type AttemptCounts struct {
	Failed        int
	Succeeded     int
	OldestFailure *time.Time
}

type RateLimitResult struct {
	IsRateLimited       bool
	IPFailedCount       int
	UsernameFailedCount int
	TimeUntilReset      time.Duration
}

type RateLimitStatus struct {
	IPAddress        string `json:"ipAddress"`
	FailedAttempts   int    `json:"failedAttempts"`
	SuccessAttempts  int    `json:"successfulAttempts"`
	IsRateLimited    bool   `json:"isRateLimited"`
	TimeUntilResetMs int64  `json:"timeUntilResetMs"`
}

// Revocation reasons stored with blacklist entries.
const (
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all"
	ReasonForced    = "forced"
)
