package client

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnectBackoffBounds(t *testing.T) {
	b := ReconnectBackoff(rand.New(rand.NewSource(7)))

	for attempt := 0; attempt < 10; attempt++ {
		nominal := ReconnectBase << attempt
		if nominal > ReconnectMax || nominal <= 0 {
			nominal = ReconnectMax
		}
		lo := time.Duration(float64(nominal) * (1 - ReconnectJitter))
		hi := time.Duration(float64(nominal) * (1 + ReconnectJitter))

		got := b.Next(attempt)
		require.GreaterOrEqual(t, got, lo, "attempt %d", attempt)
		require.LessOrEqual(t, got, hi, "attempt %d", attempt)
	}
}

func TestReconnectBackoffIsReproducible(t *testing.T) {
	a := ReconnectBackoff(rand.New(rand.NewSource(42)))
	b := ReconnectBackoff(rand.New(rand.NewSource(42)))
	for i := 0; i < MaxReconnectAttempts; i++ {
		require.Equal(t, a.Next(i), b.Next(i))
	}
}
