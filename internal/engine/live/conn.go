package live

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotOpen     = errors.New("connection not open")
	ErrSendTimeout = errors.New("send timed out")
)

// Transport is the write side of a duplex channel. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one dashboard client channel. Writes are serialised because the
// underlying websocket allows a single concurrent writer.
type Conn struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	transport Transport
	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewConn(t Transport, remote string) *Conn {
	return &Conn{
		ID:          uuid.NewString(),
		Remote:      remote,
		ConnectedAt: time.Now(),
		transport:   t,
	}
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Open moves a connecting channel to Open. It reports false if the channel
// was already past Connecting.
func (c *Conn) Open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Handshake opens a connecting channel and writes the greeting while holding
// the write lock, so the greeting is always the first frame and every event
// broadcast after it reaches the peer.
func (c *Conn) Handshake(payload []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.Open() {
		return ErrNotOpen
	}
	if err := c.transport.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.transport.WriteMessage(websocket.TextMessage, payload)
}

// Send writes one text frame, giving up after timeout. A timed-out write is
// left to be unblocked by Close.
func (c *Conn) Send(payload []byte, timeout time.Duration) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}

	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.State() != StateOpen {
			done <- ErrNotOpen
			return
		}
		if err := c.transport.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			done <- err
			return
		}
		done <- c.transport.WriteMessage(websocket.TextMessage, payload)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close is idempotent; it walks the channel through Closing to Closed.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.transport.Close()
		c.state.Store(int32(StateClosed))
	})
}
