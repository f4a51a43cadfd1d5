package warden_config

import (
	"time"

	"github.com/NordCoder/Warden/internal/obs"
	"github.com/NordCoder/Warden/internal/repository/kafka"
	pg "github.com/NordCoder/Warden/internal/repository/postgres"
	"github.com/NordCoder/Warden/internal/repository/redis"
	"github.com/NordCoder/Warden/internal/services/gateway/auth"
	"github.com/NordCoder/Warden/internal/services/gateway/realtime"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Storage struct {
	Driver string `mapstructure:"driver"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Auth struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

func (a *Auth) AsTokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     []byte(a.JWTSecret),
		Issuer:     a.Issuer,
		Audience:   a.Audience,
		AccessTTL:  a.AccessTTL,
		RefreshTTL: a.RefreshTTL,
		BcryptCost: a.BcryptCost,
	}
}

type RateLimit struct {
	Window              time.Duration `mapstructure:"window"`
	MaxIPFailures       int           `mapstructure:"max_ip_failures"`
	MaxUsernameFailures int           `mapstructure:"max_username_failures"`
	AttemptRetention    time.Duration `mapstructure:"attempt_retention"`
}

func (r *RateLimit) AsRateLimitConfig() auth.RateLimitConfig {
	return auth.RateLimitConfig{
		Window:              r.Window,
		MaxIPFailures:       r.MaxIPFailures,
		MaxUsernameFailures: r.MaxUsernameFailures,
	}
}

type Cleanup struct {
	Enable   bool   `mapstructure:"enable"`
	Schedule string `mapstructure:"schedule"`
}

type Realtime struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	InboundRate  float64       `mapstructure:"inbound_rate"`
	InboundBurst int           `mapstructure:"inbound_burst"`
}

func (r *Realtime) AsRegistryConfig() realtime.Config {
	return realtime.Config{
		WriteTimeout: r.WriteTimeout,
		ReadLimit:    r.ReadLimit,
		InboundRate:  r.InboundRate,
		InboundBurst: r.InboundBurst,
	}
}

type Kafka struct {
	Enable     bool `mapstructure:"enable"`
	Partitions int  `mapstructure:"partitions"`

	kafka.ConsumerConfig `mapstructure:",squash"`
}

// Bootstrap creates an admin account at startup when both fields are set.
type Bootstrap struct {
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
}

type Config struct {
	App       App           `mapstructure:"app"`
	Server    Server        `mapstructure:"server"`
	Storage   Storage       `mapstructure:"storage"`
	DB        pg.Config     `mapstructure:"db"`
	OTEL      OTEL          `mapstructure:"otel"`
	Log       obs.LogConfig `mapstructure:"log"`
	Auth      Auth          `mapstructure:"auth"`
	RateLimit RateLimit     `mapstructure:"ratelimit"`
	Cleanup   Cleanup       `mapstructure:"cleanup"`
	Realtime  Realtime      `mapstructure:"realtime"`
	Kafka     Kafka         `mapstructure:"kafka"`
	Redis     redis.Config  `mapstructure:"redis"`
	Bootstrap Bootstrap     `mapstructure:"bootstrap"`
}

// AsLoggerConfig stamps the app identity onto the log section.
func (c *Config) AsLoggerConfig() obs.LogConfig {
	lc := c.Log
	lc.App = c.App.Name
	lc.Env = c.App.Env
	lc.Ver = c.App.Version
	return lc
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
