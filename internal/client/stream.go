package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/event"
	"github.com/NordCoder/Warden/internal/obs"
	"github.com/NordCoder/Warden/internal/obs/retry"
)

var (
	ErrReconnectGaveUp = errors.New("stream: reconnect attempts exhausted")
	ErrNotConnected    = errors.New("stream: not connected")
)

type StreamOpts struct {
	// URL of the WebSocket endpoint; the access token is added as ?token=.
	URL   string
	Token func() string

	Dialer      *websocket.Dialer
	Backoff     retry.Backoff
	MaxAttempts int

	OnMessage func(event.Message)
	// OnAuthRejected runs on close 4001/4002; the stream does not reconnect.
	OnAuthRejected func(code int)
	OnConnect      func()
	Logger         *zap.Logger
}

// Stream owns at most one outbound connection at a time.
type Stream struct {
	opts StreamOpts
	log  *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	closing bool
	writeMu sync.Mutex
}

func NewStream(o StreamOpts) *Stream {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.Backoff == nil {
		o.Backoff = ReconnectBackoff(nil)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = MaxReconnectAttempts
	}
	if o.Token == nil {
		o.Token = func() string { return "" }
	}
	return &Stream{opts: o, log: obs.Component(o.Logger, "client.stream")}
}

// Run connects and keeps the stream up until ctx is done, the server closes
// normally, authentication is rejected or reconnects are exhausted. Normal
// closure and cancellation return nil.
func (s *Stream) Run(ctx context.Context) error {
	attempt := 0
	for {
		code, err := s.session(ctx)
		switch {
		case ctx.Err() != nil || s.isClosing():
			return nil
		case code == websocket.CloseNormalClosure:
			s.log.Info("stream closed by server")
			return nil
		case code == domainauth.CloseAuthRequired || code == domainauth.CloseInvalidAuth:
			s.log.Warn("stream authentication rejected", zap.Int("code", code))
			if s.opts.OnAuthRejected != nil {
				s.opts.OnAuthRejected(code)
			}
			return &domainauth.ConnectionAuthError{Code: code, Reason: "rejected by server"}
		}

		if code != 0 {
			// the connection was up, so the next failure starts a fresh series
			attempt = 0
		}
		if attempt >= s.opts.MaxAttempts {
			return fmt.Errorf("%w: %v", ErrReconnectGaveUp, err)
		}
		wait := s.opts.Backoff.Next(attempt)
		attempt++
		s.log.Info("stream reconnecting",
			zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Int("code", code), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session dials once and reads until the connection ends. code is 0 when the
// dial itself failed.
func (s *Stream) session(ctx context.Context) (int, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return 0, err
	}
	q := u.Query()
	if tok := s.opts.Token(); tok != "" {
		q.Set("token", tok)
	}
	u.RawQuery = q.Encode()

	ws, resp, err := s.opts.Dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ws.Close()
		return websocket.CloseNormalClosure, nil
	}
	s.ws = ws
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()
		ws.Close()
	}()

	if s.opts.OnConnect != nil {
		s.opts.OnConnect()
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, err
			}
			return websocket.CloseAbnormalClosure, err
		}
		var msg event.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("undecodable stream message", zap.Error(err))
			continue
		}
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(msg)
		}
	}
}

// Send writes one message on the live connection.
func (s *Stream) Send(msg event.Message) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure and stops Run from reconnecting.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closing = true
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return nil
	}
	s.writeMu.Lock()
	err := ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	ws.Close()
	return err
}

func (s *Stream) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
