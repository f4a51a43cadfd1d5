package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
	"github.com/NordCoder/Warden/internal/obs"
)

const refreshTokenBytes = 32

type TokenConfig struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
	Now        func() time.Time
}

// TokenService issues and verifies access tokens and owns the refresh-token
// and blacklist stores.
type TokenService struct {
	cfg       TokenConfig
	refresh   domainauth.RefreshTokenRepo
	blacklist domainauth.BlacklistRepo
	log       *zap.Logger
}

func NewTokenService(refresh domainauth.RefreshTokenRepo, blacklist domainauth.BlacklistRepo, cfg TokenConfig, log *zap.Logger) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, domainauth.ErrMissingSecret
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &TokenService{
		cfg:       cfg,
		refresh:   refresh,
		blacklist: blacklist,
		log:       obs.Component(log, "tokens"),
	}, nil
}

func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

func (s *TokenService) IssueAccessToken(u *user.User) (string, *domainauth.AccessClaims, error) {
	now := s.cfg.Now()
	claims := &domainauth.AccessClaims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		Type:     domainauth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

func (s *TokenService) VerifyAccessToken(ctx context.Context, token string) (*domainauth.AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	claims := &domainauth.AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			verifyFailures.WithLabelValues("expired").Inc()
			return nil, domainauth.ErrTokenExpired
		}
		verifyFailures.WithLabelValues("invalid").Inc()
		return nil, domainauth.ErrTokenInvalid
	}
	if claims.Type != domainauth.TokenTypeAccess || claims.ID == "" {
		verifyFailures.WithLabelValues("invalid").Inc()
		return nil, domainauth.ErrTokenInvalid
	}

	revoked, err := s.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		verifyFailures.WithLabelValues("revoked").Inc()
		return nil, domainauth.ErrTokenRevoked
	}
	return claims, nil
}

// IssueRefreshToken returns the plaintext once; only its bcrypt hash is stored.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID int64, deviceInfo, ipAddress string) (*domainauth.IssuedRefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash refresh token: %w", err)
	}

	now := s.cfg.Now()
	rec := &domainauth.RefreshToken{
		UserID:     userID,
		TokenHash:  string(hash),
		ExpiresAt:  now.Add(s.cfg.RefreshTTL),
		DeviceInfo: deviceInfo,
		IPAddress:  ipAddress,
		CreatedAt:  now,
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}
	return &domainauth.IssuedRefreshToken{Plaintext: plain, ID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// VerifyRefreshToken compares the plaintext against every active hash. Salted
// hashes cannot be looked up by value, so the cost grows with active tokens.
// A matching token stays valid; it is not rotated.
func (s *TokenService) VerifyRefreshToken(ctx context.Context, token string) (*domainauth.RefreshTokenInfo, error) {
	if token == "" {
		return nil, domainauth.ErrRefreshTokenInvalid
	}
	now := s.cfg.Now()
	active, err := s.refresh.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active refresh tokens: %w", err)
	}
	for _, rt := range active {
		if bcrypt.CompareHashAndPassword([]byte(rt.TokenHash), []byte(token)) != nil {
			continue
		}
		if err := s.refresh.TouchLastUsed(ctx, rt.ID, now); err != nil {
			s.log.Warn("touch refresh token", zap.Int64("id", rt.ID), zap.Error(err))
		}
		return &domainauth.RefreshTokenInfo{ID: rt.ID, UserID: rt.UserID, ExpiresAt: rt.ExpiresAt}, nil
	}
	verifyFailures.WithLabelValues("refresh_invalid").Inc()
	return nil, domainauth.ErrRefreshTokenInvalid
}

func (s *TokenService) RevokeRefreshToken(ctx context.Context, id int64) error {
	if err := s.refresh.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke refresh token %d: %w", id, err)
	}
	return nil
}

func (s *TokenService) RevokeAllUserTokens(ctx context.Context, userID int64) (int64, error) {
	n, err := s.refresh.RevokeAllByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user %d refresh tokens: %w", userID, err)
	}
	s.log.Info("refresh tokens revoked", zap.Int64("user_id", userID), zap.Int64("count", n))
	return n, nil
}

// BlacklistToken keeps the jti until the token itself would have expired.
func (s *TokenService) BlacklistToken(ctx context.Context, claims *domainauth.AccessClaims, reason string) error {
	if claims == nil || claims.ID == "" {
		return domainauth.ErrTokenInvalid
	}
	exp := s.cfg.Now().Add(s.cfg.AccessTTL)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	err := s.blacklist.Add(ctx, &domainauth.BlacklistEntry{
		TokenJTI:  claims.ID,
		UserID:    claims.UserID,
		ExpiresAt: exp,
		Reason:    reason,
		CreatedAt: s.cfg.Now(),
	})
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (s *TokenService) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	ok, err := s.blacklist.Exists(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return ok, nil
}

// CleanupExpiredTokens purges expired refresh tokens and blacklist entries and
// returns how many rows were removed in total.
func (s *TokenService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	now := s.cfg.Now()
	var refreshed, blacklisted int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.refresh.DeleteExpired(gctx, now)
		if err != nil {
			return fmt.Errorf("delete expired refresh tokens: %w", err)
		}
		refreshed = n
		return nil
	})
	g.Go(func() error {
		n, err := s.blacklist.DeleteExpired(gctx, now)
		if err != nil {
			return fmt.Errorf("delete expired blacklist entries: %w", err)
		}
		blacklisted = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	cleanupDeleted.WithLabelValues("refresh_tokens").Add(float64(refreshed))
	cleanupDeleted.WithLabelValues("blacklist").Add(float64(blacklisted))
	s.log.Info("expired tokens removed",
		zap.Int64("refresh_tokens", refreshed),
		zap.Int64("blacklist", blacklisted),
	)
	return refreshed + blacklisted, nil
}
