package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultKafkaPolicy retries broker round-trips such as offset commits.
func DefaultKafkaPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "kafka",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: logAttempt(log, "kafka"),
		OnExhaust: logExhaust(log, "kafka"),
	}
}

// OnceIf retries a single time when retryable reports the error as transient.
func OnceIf(name string, retryable func(error) bool, log *zap.Logger) Policy {
	return Policy{
		Name:      name,
		Attempts:  2,
		Backoff:   ExpoJitter{Base: 500 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
		Retryable: retryable,
		OnAttempt: logAttempt(log, name),
		OnExhaust: logExhaust(log, name),
	}
}

func logAttempt(log *zap.Logger, name string) func(int, error) {
	return func(i int, err error) {
		if log != nil {
			log.Warn("retry attempt failed", zap.String("op", name), zap.Int("attempt", i+1), zap.Error(err))
		}
	}
}

func logExhaust(log *zap.Logger, name string) func(error) {
	return func(err error) {
		if log != nil && !errors.Is(err, context.Canceled) {
			log.Error("retries exhausted", zap.String("op", name), zap.Error(err))
		}
	}
}
