package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// socket is the write side of *websocket.Conn.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type conn struct {
	ws       socket
	userID   int64
	username string
	limiter  *rate.Limiter

	state      atomic.Int32
	silent     atomic.Bool // leaves without a user_disconnected event
	writeMu    sync.Mutex
	closeOnce  sync.Once
}

func newConn(ws socket, limiter *rate.Limiter) *conn {
	c := &conn{ws: ws, limiter: limiter}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *conn) State() State { return State(c.state.Load()) }

func (c *conn) setState(s State) { c.state.Store(int32(s)) }

// write serializes writers; gorilla/websocket supports one concurrent writer.
func (c *conn) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != StateOpen {
		return websocket.ErrCloseSent
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame best-effort and releases the socket once.
func (c *conn) close(code int, reason string, timeout time.Duration) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
		c.setState(StateClosed)
	})
}

// abort drops the socket without a close frame, used after a failed write.
func (c *conn) abort() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		_ = c.ws.Close()
	})
}
