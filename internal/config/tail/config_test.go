package tail_config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("TAIL_USERNAME", "alice")
	t.Setenv("TAIL_PASSWORD", "pw")
	t.Setenv("TAIL_BASE_URL", "https://warden.example.com/")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "wss://warden.example.com/ws", cfg.WSURL)
	require.Equal(t, 500*time.Millisecond, cfg.Debounce)
	require.Equal(t, "warden-tail", cfg.Log.App)
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("TAIL_USERNAME", "")
	t.Setenv("TAIL_PASSWORD", "")
	_, err := Load("")
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestWSURLFrom(t *testing.T) {
	require.Equal(t, "ws://localhost:8080/ws", WSURLFrom("http://localhost:8080"))
	require.Equal(t, "wss://h/ws", WSURLFrom("https://h"))
}
