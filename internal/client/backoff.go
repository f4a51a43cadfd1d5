// Package client is the consumer side of the session contract: a REST
// session that refreshes on 401, a reconnecting event stream and a
// per-entity debouncer for update events.
package client

import (
	"math/rand"
	"time"

	"github.com/NordCoder/Warden/internal/obs/retry"
)

const (
	ReconnectBase        = time.Second
	ReconnectMax         = 30 * time.Second
	ReconnectJitter      = 0.2
	MaxReconnectAttempts = 5
)

// ReconnectBackoff is the stream's delay schedule. A seeded rnd makes it
// reproducible.
func ReconnectBackoff(rnd *rand.Rand) retry.ExpoJitter {
	return retry.ExpoJitter{
		Base:   ReconnectBase,
		Max:    ReconnectMax,
		Jitter: ReconnectJitter,
		Rand:   rnd,
	}
}
