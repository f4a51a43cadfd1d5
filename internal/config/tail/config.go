package tail_config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/NordCoder/Warden/internal/obs"
)

type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	WSURL    string        `mapstructure:"ws_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Debounce time.Duration `mapstructure:"debounce"`
	Log      obs.LogConfig `mapstructure:"log"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

const ErrNoCredentials ErrConfig = "tail.username and tail.password are required"

// Load reads TAIL_* variables and an optional YAML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix("tail")

	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("ws_url", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("debounce", "500ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrNoCredentials
	}
	if cfg.WSURL == "" {
		cfg.WSURL = WSURLFrom(cfg.BaseURL)
	}
	cfg.Log.App = "warden-tail"
	return &cfg, nil
}

// WSURLFrom maps http(s)://host to ws(s)://host/ws.
func WSURLFrom(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
