package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/user"
	"github.com/NordCoder/Warden/internal/obs"
)

// ConnectionCounter reports live realtime connections for the admin view.
type ConnectionCounter interface {
	ConnectedClientsCount() int
}

type ControllerOpts struct {
	Logger     *zap.Logger
	TrustProxy bool
	Realtime   ConnectionCounter
}

type Controller struct {
	uc         *Usecase
	cleanup    *Cleanup
	realtime   ConnectionCounter
	validate   *validator.Validate
	trustProxy bool
	log        *zap.Logger
}

func NewController(uc *Usecase, cleanup *Cleanup, o ControllerOpts) *Controller {
	return &Controller{
		uc:         uc,
		cleanup:    cleanup,
		realtime:   o.Realtime,
		validate:   validator.New(),
		trustProxy: o.TrustProxy,
		log:        obs.Component(o.Logger, "auth_http"),
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	User         *user.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    string     `json:"expiresIn"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   string `json:"expiresIn"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type rateLimitedBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

type meResponse struct {
	User      user.User `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register mounts the auth and admin routes on r.
func (c *Controller) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", c.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", c.Refresh).Methods(http.MethodPost)
	r.Handle("/auth/logout", c.RequireAuth(http.HandlerFunc(c.Logout))).Methods(http.MethodPost)
	r.Handle("/auth/logout-all", c.RequireAuth(http.HandlerFunc(c.LogoutAll))).Methods(http.MethodPost)
	r.Handle("/auth/me", c.RequireAuth(http.HandlerFunc(c.Me))).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(c.RequireAuth, RequireRole(user.RoleAdmin))
	admin.HandleFunc("/security/failed-attempts", c.FailedAttempts).Methods(http.MethodGet)
	admin.HandleFunc("/security/top-ips", c.TopIPs).Methods(http.MethodGet)
	admin.HandleFunc("/security/rate-limit/{ip}", c.RateLimitStatus).Methods(http.MethodGet)
	admin.HandleFunc("/security/rate-limit/{ip}", c.ClearRateLimit).Methods(http.MethodDelete)
	admin.HandleFunc("/security/cleanup", c.Cleanup).Methods(http.MethodPost)
	admin.HandleFunc("/realtime", c.RealtimeStats).Methods(http.MethodGet)
}

// RequireAuth verifies the bearer token and stores its claims on the request context.
func (c *Controller) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeAuthRequired, "authentication required")
			return
		}
		claims, err := c.uc.Tokens().VerifyAccessToken(r.Context(), token)
		if err != nil {
			c.writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func RequireRole(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeAuthRequired, "authentication required")
				return
			}
			if claims.Role != role {
				writeError(w, http.StatusForbidden, CodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !c.decode(w, r, &req, false) {
		return
	}

	res, err := c.uc.Login(r.Context(), LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IP:        clientIP(r, c.trustProxy),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var rl *domainauth.RateLimitedError
		switch {
		case errors.As(err, &rl):
			secs := rl.RetryAfterSeconds()
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
				Code:       CodeRateLimited,
				Message:    "too many login attempts, try again later",
				RetryAfter: secs,
			})
		case errors.Is(err, domainauth.ErrAuthenticationFailed):
			writeError(w, http.StatusBadRequest, CodeAuthFailed, err.Error())
		default:
			c.internal(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
	})
}

func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !c.decode(w, r, &req, false) {
		return
	}
	access, err := c.uc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		c.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: access,
		ExpiresIn:   FormatTTL(c.uc.Tokens().AccessTTL()),
	})
}

func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !c.decode(w, r, &req, true) {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	if err := c.uc.Logout(r.Context(), claims, req.RefreshToken); err != nil {
		c.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (c *Controller) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	n, err := c.uc.LogoutAll(r.Context(), claims)
	if err != nil {
		c.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	resp := meResponse{User: user.User{ID: claims.UserID, Username: claims.Username, Role: claims.Role}}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) FailedAttempts(w http.ResponseWriter, r *http.Request) {
	out, err := c.uc.Limiter().GetRecentFailedAttempts(r.Context(), queryLimit(r))
	if err != nil {
		c.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": nonNil(out)})
}

func (c *Controller) TopIPs(w http.ResponseWriter, r *http.Request) {
	out, err := c.uc.Limiter().GetTopAttackingIPs(r.Context(), queryLimit(r))
	if err != nil {
		c.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ips": nonNil(out)})
}

func (c *Controller) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	st, err := c.uc.Limiter().GetRateLimitStatus(r.Context(), mux.Vars(r)["ip"])
	if err != nil {
		c.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *Controller) ClearRateLimit(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	n, err := c.uc.Limiter().ClearRateLimit(r.Context(), ip)
	if err != nil {
		c.internal(w, r, err)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	obs.WithTrace(r.Context(), c.log).Info("admin cleared rate limit",
		zap.String("ip", ip), zap.Int64("admin_id", claims.UserID))
	writeJSON(w, http.StatusOK, map[string]any{"ipAddress": ip, "deleted": n})
}

func (c *Controller) Cleanup(w http.ResponseWriter, r *http.Request) {
	rep, err := c.cleanup.RunOnce(r.Context())
	if err != nil {
		c.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (c *Controller) RealtimeStats(w http.ResponseWriter, _ *http.Request) {
	n := 0
	if c.realtime != nil {
		n = c.realtime.ConnectedClientsCount()
	}
	writeJSON(w, http.StatusOK, map[string]int{"connectedClients": n})
}

// decode reads and validates a JSON body; optional bodies may be empty.
func (c *Controller) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return false
	}
	if err := c.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return false
	}
	return true
}

func (c *Controller) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainauth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, CodeTokenExpired, "token expired")
	case errors.Is(err, domainauth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, CodeTokenRevoked, "token revoked")
	case errors.Is(err, domainauth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "invalid token")
	case errors.Is(err, domainauth.ErrRefreshTokenInvalid):
		writeError(w, http.StatusUnauthorized, CodeRefreshTokenInvalid, "invalid refresh token")
	default:
		c.internal(w, r, err)
	}
}

func (c *Controller) internal(w http.ResponseWriter, r *http.Request, err error) {
	obs.WithTrace(r.Context(), c.log).Error("request failed",
		zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
