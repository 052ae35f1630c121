package websocket

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrConnClosed is returned when writing to a connection that is already closed.
var ErrConnClosed = errors.New("websocket connection closed")

var errPongTimeout = errors.New("pong timeout")

// Conn is an upgraded server-side WebSocket connection. It tracks the
// lifecycle of the hijacked socket and fires end, error and close listeners.
// A peer close frame or EOF fires end, any other failure fires error, and
// both are followed by close. Each listener kind fires at most once.
type Conn struct {
	nc   net.Conn
	br   *bufio.Reader
	opts Options

	// wmu serializes frame writes from broadcasts, pongs and close frames.
	wmu sync.Mutex

	mu      sync.Mutex
	state   State
	ended   bool
	failed  bool
	onClose []func()
	onEnd   []func()
	onError []func(error)

	lastPong atomic.Int64
	closed   chan struct{}
}

func newConn(nc net.Conn, br *bufio.Reader, opts Options) *Conn {
	if br == nil {
		br = bufio.NewReader(nc)
	}
	return &Conn{
		nc:     nc,
		br:     br,
		opts:   opts,
		state:  StateOpen,
		closed: make(chan struct{}),
	}
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection is CLOSED.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// OnClose registers fn to run once the socket is closed. Registering on an
// already closed connection runs fn immediately.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// OnEnd registers fn to run when the peer ends the stream.
func (c *Conn) OnEnd(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnd = append(c.onEnd, fn)
}

// OnError registers fn to run when the connection fails.
func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// Serve reads client frames until the connection ends, fails or ctx is
// cancelled. It answers pings, echoes close frames and drops data frames.
// It blocks, and the connection is CLOSED when it returns.
func (c *Conn) Serve(ctx context.Context) {
	c.lastPong.Store(time.Now().UnixNano())
	if c.opts.PingInterval > 0 {
		go c.pingLoop(ctx)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		f, err := readFrame(c.br)
		if err != nil {
			if c.State() == StateClosed {
				return
			}
			if errors.Is(err, io.EOF) {
				c.end()
				return
			}
			c.fail(err)
			return
		}

		switch f.opcode {
		case opClose:
			code := f.payload
			if len(code) > 2 {
				code = code[:2]
			}
			_ = c.writeFrame(encodeControlFrame(opClose, code))
			c.end()
			return
		case opPing:
			if err := c.writeFrame(encodeControlFrame(opPong, f.payload)); err != nil {
				c.fail(err)
				return
			}
		case opPong:
			c.lastPong.Store(time.Now().UnixNano())
		}
	}
}

// WriteFrame writes an encoded frame. A failed write marks the connection as
// failed, so it is closed and its error listeners run.
func (c *Conn) WriteFrame(frame []byte) error {
	if c.State() == StateClosed {
		return ErrConnClosed
	}
	if err := c.writeFrame(frame); err != nil {
		if c.State() == StateClosed {
			return ErrConnClosed
		}
		c.fail(err)
		return err
	}
	return nil
}

func (c *Conn) writeFrame(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	_, err := c.nc.Write(b)
	return err
}

// Close closes the socket and runs the close listeners. Calling it again is
// a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	listeners := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	close(c.closed)
	err := c.nc.Close()
	for _, fn := range listeners {
		fn()
	}
	return err
}

// CloseWithStatus sends a close frame with code and reason, then closes.
func (c *Conn) CloseWithStatus(code uint16, reason string) error {
	if c.State() == StateClosed {
		return nil
	}
	_ = c.writeFrame(encodeControlFrame(opClose, closePayload(code, reason)))
	return c.Close()
}

func (c *Conn) end() {
	c.mu.Lock()
	fire := !c.ended && c.state == StateOpen
	c.ended = true
	listeners := c.onEnd
	c.mu.Unlock()

	if fire {
		for _, fn := range listeners {
			fn()
		}
	}
	_ = c.Close()
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	fire := !c.failed && c.state == StateOpen
	c.failed = true
	listeners := c.onError
	c.mu.Unlock()

	if fire {
		c.opts.Logger.Debug("websocket connection error",
			slog.String("remote", c.RemoteAddr()),
			slog.String("error", err.Error()))
		for _, fn := range listeners {
			fn(err)
		}
	}
	_ = c.Close()
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > c.opts.PongTimeout {
				c.opts.Logger.Warn("pong timeout, closing connection", slog.String("remote", c.RemoteAddr()))
				c.fail(errPongTimeout)
				return
			}
			if err := c.writeFrame(encodeControlFrame(opPing, nil)); err != nil {
				if c.State() != StateClosed {
					c.fail(err)
				}
				return
			}
		}
	}
}
