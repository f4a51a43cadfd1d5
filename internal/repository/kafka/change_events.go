package kafka

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Warden/internal/domain/event"
	"github.com/NordCoder/Warden/internal/obs"
)

// changeEvent is the wire form published by the project application.
type changeEvent struct {
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
	UserID  *int64          `json:"userId,omitempty"`
}

// ChangeEventHandler broadcasts each valid change event. Malformed or unknown
// events are logged and dropped so their offsets still get committed.
func ChangeEventHandler(b event.Broadcaster, now func() time.Time, log *zap.Logger) Handler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	log = obs.Component(log, "change_events")
	return func(ctx context.Context, key, value []byte) error {
		var in changeEvent
		if err := json.Unmarshal(value, &in); err != nil {
			obs.WithTrace(ctx, log).Warn("malformed change event dropped", zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		if !in.Type.Valid() || in.Type == event.Error {
			obs.WithTrace(ctx, log).Warn("unknown change event type dropped", zap.String("type", string(in.Type)))
			return nil
		}
		n := b.Broadcast(event.Message{
			Type:      in.Type,
			Payload:   in.Payload,
			Timestamp: now(),
			UserID:    in.UserID,
		})
		obs.WithTrace(ctx, log).Debug("change event broadcast", zap.String("type", string(in.Type)), zap.Int("delivered", n))
		return nil
	}
}
