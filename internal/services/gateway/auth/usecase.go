package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
	"github.com/NordCoder/Warden/internal/obs"
)

type LoginInput struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
}

type LoginResult struct {
	User         *user.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    string
}

type Usecase struct {
	users   user.Directory
	tokens  *TokenService
	limiter *RateLimitService
	tx      domainauth.Transactor
	log     *zap.Logger
}

func NewUsecase(users user.Directory, tokens *TokenService, limiter *RateLimitService, tx domainauth.Transactor, log *zap.Logger) *Usecase {
	return &Usecase{
		users:   users,
		tokens:  tokens,
		limiter: limiter,
		tx:      tx,
		log:     obs.Component(log, "auth"),
	}
}

func (u *Usecase) Tokens() *TokenService { return u.tokens }

func (u *Usecase) Limiter() *RateLimitService { return u.limiter }

// Login gates on the limiter before touching credentials. A rejected attempt
// is itself recorded as a failure, so probing during a lockout keeps it alive.
func (u *Usecase) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	log := obs.WithTrace(ctx, u.log).With(zap.String("ip", in.IP), zap.String("username", in.Username))

	rl, err := u.limiter.CheckRateLimit(ctx, in.IP, in.Username)
	if err != nil {
		return nil, err
	}
	if rl.IsRateLimited {
		if err := u.limiter.RecordLoginAttempt(ctx, in.IP, in.Username, false, in.UserAgent); err != nil {
			return nil, err
		}
		loginOutcomes.WithLabelValues("rate_limited").Inc()
		log.Warn("login rate limited",
			zap.Int("ip_failed", rl.IPFailedCount),
			zap.Int("username_failed", rl.UsernameFailedCount),
			zap.Duration("retry_after", rl.TimeUntilReset),
		)
		return nil, &domainauth.RateLimitedError{RetryAfter: rl.TimeUntilReset}
	}

	usr, err := u.users.Authenticate(ctx, in.Username, in.Password)
	if err != nil {
		if !errors.Is(err, domainauth.ErrAuthenticationFailed) {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		if err := u.limiter.RecordLoginAttempt(ctx, in.IP, in.Username, false, in.UserAgent); err != nil {
			return nil, err
		}
		loginOutcomes.WithLabelValues("failure").Inc()
		log.Info("login failed")
		return nil, domainauth.ErrAuthenticationFailed
	}
	if err := u.limiter.RecordLoginAttempt(ctx, in.IP, in.Username, true, in.UserAgent); err != nil {
		return nil, err
	}

	access, _, err := u.tokens.IssueAccessToken(usr)
	if err != nil {
		return nil, err
	}
	refresh, err := u.tokens.IssueRefreshToken(ctx, usr.ID, in.UserAgent, in.IP)
	if err != nil {
		return nil, err
	}

	loginOutcomes.WithLabelValues("success").Inc()
	log.Info("login succeeded", zap.Int64("user_id", usr.ID))
	return &LoginResult{
		User:         usr,
		AccessToken:  access,
		RefreshToken: refresh.Plaintext,
		ExpiresIn:    FormatTTL(u.tokens.AccessTTL()),
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is left valid.
func (u *Usecase) Refresh(ctx context.Context, refreshToken string) (string, error) {
	info, err := u.tokens.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	usr, err := u.users.GetByID(ctx, info.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", domainauth.ErrRefreshTokenInvalid
		}
		return "", fmt.Errorf("load user %d: %w", info.UserID, err)
	}
	access, _, err := u.tokens.IssueAccessToken(usr)
	return access, err
}

// Logout revokes the presented access token and, when supplied, the caller's
// own refresh token in one transaction.
func (u *Usecase) Logout(ctx context.Context, claims *domainauth.AccessClaims, refreshToken string) error {
	return u.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.tokens.BlacklistToken(ctx, claims, domainauth.ReasonLogout); err != nil {
			return err
		}
		if refreshToken == "" {
			return nil
		}
		info, err := u.tokens.VerifyRefreshToken(ctx, refreshToken)
		if errors.Is(err, domainauth.ErrRefreshTokenInvalid) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.UserID != claims.UserID {
			obs.WithTrace(ctx, u.log).Warn("logout with foreign refresh token ignored",
				zap.Int64("caller", claims.UserID), zap.Int64("owner", info.UserID))
			return nil
		}
		return u.tokens.RevokeRefreshToken(ctx, info.ID)
	})
}

func (u *Usecase) LogoutAll(ctx context.Context, claims *domainauth.AccessClaims) (int64, error) {
	var revoked int64
	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := u.tokens.RevokeAllUserTokens(ctx, claims.UserID)
		if err != nil {
			return err
		}
		revoked = n
		return u.tokens.BlacklistToken(ctx, claims, domainauth.ReasonLogoutAll)
	})
	return revoked, err
}

// FormatTTL renders durations the way clients expect them, e.g. "15m" or "7d".
func FormatTTL(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
