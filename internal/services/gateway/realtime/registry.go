// Package realtime keeps one authenticated WebSocket per user and fans typed
// change events out to all of them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/domain/event"
	"github.com/NordCoder/Warden/internal/obs"
)

var ErrRegistryClosed = errors.New("realtime registry is closed")

// Verifier validates access tokens presented on connect.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*domainauth.AccessClaims, error)
}

type Config struct {
	WriteTimeout time.Duration
	ReadLimit    int64
	InboundRate  float64
	InboundBurst int
	CheckOrigin  func(r *http.Request) bool
	Now          func() time.Time
}

var _ event.Broadcaster = (*Registry)(nil)

// Registry is safe for concurrent use. State lives in process memory, so
// each instance only sees its own connections.
type Registry struct {
	cfg      Config
	verifier Verifier
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu     sync.RWMutex
	conns  map[int64]*conn
	closed bool
}

func NewRegistry(verifier Verifier, cfg Config, log *zap.Logger) *Registry {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 << 10
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 10
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 20
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Registry{
		cfg:      cfg,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log:   obs.Component(log, "realtime"),
		conns: make(map[int64]*conn),
	}
}

// ServeHTTP upgrades first and authenticates afterwards, so auth failures are
// reported as close codes the client can act on.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := newConn(ws, rate.NewLimiter(rate.Limit(r.cfg.InboundRate), r.cfg.InboundBurst))
	c.setState(StateAuthenticating)

	claims, authErr := r.authenticate(req.Context(), req.URL.Query().Get("token"))
	if authErr != nil {
		authRejections.WithLabelValues(strconv.Itoa(authErr.Code)).Inc()
		r.log.Info("connection rejected", zap.Int("code", authErr.Code), zap.String("reason", authErr.Reason))
		c.close(authErr.Code, authErr.Reason, r.cfg.WriteTimeout)
		return
	}
	c.userID, c.username = claims.UserID, claims.Username

	replaced, err := r.register(c)
	if err != nil {
		c.close(websocket.CloseGoingAway, "server shutting down", r.cfg.WriteTimeout)
		return
	}
	log := r.log.With(zap.Int64("user_id", c.userID))
	log.Info("connection open", zap.Bool("replaced", replaced))
	if !replaced {
		r.announce(event.UserConnected, c)
	}

	r.readLoop(ws, c)

	if r.unregister(c) {
		log.Info("connection closed")
		r.announce(event.UserDisconnected, c)
	}
}

func (r *Registry) authenticate(ctx context.Context, token string) (*domainauth.AccessClaims, *domainauth.ConnectionAuthError) {
	if token == "" {
		return nil, &domainauth.ConnectionAuthError{Code: domainauth.CloseAuthRequired, Reason: "authentication required"}
	}
	claims, err := r.verifier.VerifyAccessToken(ctx, token)
	if err != nil {
		return nil, &domainauth.ConnectionAuthError{Code: domainauth.CloseAuthRequired, Reason: "authentication required"}
	}
	if claims == nil || claims.UserID == 0 {
		return nil, &domainauth.ConnectionAuthError{Code: domainauth.CloseInvalidAuth, Reason: "invalid authentication"}
	}
	return claims, nil
}

// register installs c as the user's only connection. A previous connection is
// removed from the map before c is added and then closed with 1000.
func (r *Registry) register(c *conn) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrRegistryClosed
	}
	old, ok := r.conns[c.userID]
	if ok {
		delete(r.conns, c.userID)
		old.silent.Store(true)
	}
	c.setState(StateOpen)
	r.conns[c.userID] = c
	r.mu.Unlock()

	if ok {
		supersededTotal.Inc()
		old.close(websocket.CloseNormalClosure, "superseded by a newer connection", r.cfg.WriteTimeout)
	} else {
		connectionsGauge.Inc()
	}
	return ok, nil
}

// unregister removes c if it is still the user's current connection.
func (r *Registry) unregister(c *conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[c.userID]
	removed := ok && cur == c
	if removed {
		delete(r.conns, c.userID)
	}
	r.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "", r.cfg.WriteTimeout)
	if removed {
		connectionsGauge.Dec()
	}
	return removed && !c.silent.Load()
}

func (r *Registry) readLoop(ws *websocket.Conn, c *conn) {
	ws.SetReadLimit(r.cfg.ReadLimit)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.State() == StateOpen {
				r.log.Debug("read failed", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}
		r.relay(c, data)
	}
}

type inbound struct {
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// relay re-broadcasts a client message stamped with the sender and server time.
// Payloads are not checked against persisted state.
func (r *Registry) relay(c *conn, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || !in.Type.Valid() {
		inboundDropped.WithLabelValues("unknown_type").Inc()
		r.replyError(c, "unrecognized message type")
		return
	}
	if !c.limiter.Allow() {
		inboundDropped.WithLabelValues("rate_limited").Inc()
		r.replyError(c, "too many messages")
		return
	}
	uid := c.userID
	r.Broadcast(event.Message{
		Type:      in.Type,
		Payload:   in.Payload,
		Timestamp: r.cfg.Now(),
		UserID:    &uid,
	})
}

func (r *Registry) replyError(c *conn, msg string) {
	m, err := event.New(event.Error, map[string]string{"message": msg})
	if err != nil {
		return
	}
	m.Timestamp = r.cfg.Now()
	r.send(c, m)
}

func (r *Registry) announce(t event.Type, c *conn) {
	uid := c.userID
	m, err := event.New(t, map[string]any{"userId": c.userID, "username": c.username})
	if err != nil {
		return
	}
	m.Timestamp = r.cfg.Now()
	m.UserID = &uid
	r.Broadcast(m)
}

// Broadcast writes msg to every open connection concurrently and returns the
// number of successful deliveries. Failed connections are pruned.
func (r *Registry) Broadcast(msg event.Message) int {
	data, err := r.encode(&msg)
	if err != nil {
		r.log.Error("encode broadcast", zap.String("type", string(msg.Type)), zap.Error(err))
		return 0
	}

	r.mu.RLock()
	targets := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.State() == StateOpen {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		deliverMu sync.Mutex
		delivered int
	)
	for _, c := range targets {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			if err := c.write(data, r.cfg.WriteTimeout); err != nil {
				r.prune(c, err)
				return
			}
			deliverMu.Lock()
			delivered++
			deliverMu.Unlock()
		}(c)
	}
	wg.Wait()

	broadcastsTotal.WithLabelValues(string(msg.Type)).Inc()
	return delivered
}

// SendToUser reports whether the user had an open socket to attempt delivery on.
func (r *Registry) SendToUser(userID int64, msg event.Message) bool {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok || c.State() != StateOpen {
		return false
	}
	if err := r.encodeAndSend(c, msg); err != nil {
		r.log.Error("encode message", zap.String("type", string(msg.Type)), zap.Error(err))
	}
	return true
}

func (r *Registry) send(c *conn, msg event.Message) {
	if err := r.encodeAndSend(c, msg); err != nil {
		r.log.Error("encode message", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (r *Registry) encodeAndSend(c *conn, msg event.Message) error {
	data, err := r.encode(&msg)
	if err != nil {
		return err
	}
	if err := c.write(data, r.cfg.WriteTimeout); err != nil {
		r.prune(c, err)
		return nil
	}
	broadcastsTotal.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (r *Registry) encode(msg *event.Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.cfg.Now()
	}
	return json.Marshal(msg)
}

func (r *Registry) prune(c *conn, cause error) {
	sendFailures.Inc()
	r.mu.Lock()
	if cur, ok := r.conns[c.userID]; ok && cur == c {
		delete(r.conns, c.userID)
		connectionsGauge.Dec()
	}
	r.mu.Unlock()
	c.abort()
	r.log.Warn("connection pruned after failed write", zap.Int64("user_id", c.userID), zap.Error(cause))
}

func (r *Registry) IsUserConnected(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return ok && c.State() == StateOpen
}

func (r *Registry) ConnectedClientsCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close closes every connection with 1000 and refuses new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*conn, 0, len(r.conns))
	for id, c := range r.conns {
		c.silent.Store(true)
		all = append(all, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			c.close(websocket.CloseNormalClosure, "server shutdown", r.cfg.WriteTimeout)
			connectionsGauge.Dec()
		}(c)
	}
	wg.Wait()
	r.log.Info("realtime registry closed", zap.Int("connections", len(all)))
}
