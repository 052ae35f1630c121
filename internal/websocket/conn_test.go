package websocket

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPipeConn returns a server Conn and the raw client end of an in-memory pipe.
func newPipeConn(t *testing.T, options ...Option) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	opts := append([]Option{WithPingInterval(0), WithLogger(discardLogger())}, options...)
	return newConn(server, nil, applyOptions(opts)), client
}

type serverFrame struct {
	opcode  byte
	payload []byte
}

// readServerFrame reads one unmasked short frame written by the server.
func readServerFrame(r io.Reader) (serverFrame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return serverFrame{}, err
	}
	payload := make([]byte, hdr[1]&0x7F)
	if _, err := io.ReadFull(r, payload); err != nil {
		return serverFrame{}, err
	}
	return serverFrame{opcode: hdr[0] & 0x0F, payload: payload}, nil
}

// drain reads server frames from client until it fails and forwards them.
func drain(client net.Conn) <-chan serverFrame {
	ch := make(chan serverFrame, 16)
	go func() {
		defer close(ch)
		for {
			f, err := readServerFrame(client)
			if err != nil {
				return
			}
			ch <- f
		}
	}()
	return ch
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConn_WriteFrameDelivers(t *testing.T) {
	c, client := newPipeConn(t)
	frames := drain(client)

	frame, _ := EncodeTextFrame("reload")
	if err := c.WriteFrame(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case f := <-frames:
		if f.opcode != opText || string(f.payload) != "reload" {
			t.Errorf("unexpected frame %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestConn_PeerEOFFiresEndThenClose(t *testing.T) {
	c, client := newPipeConn(t)

	var ends, errs, closes atomic.Int32
	closed := make(chan struct{})
	c.OnEnd(func() { ends.Add(1) })
	c.OnError(func(error) { errs.Add(1) })
	c.OnClose(func() {
		closes.Add(1)
		close(closed)
	})

	go c.Serve(context.Background())
	client.Close()
	waitSignal(t, closed, "close listener")

	if ends.Load() != 1 || errs.Load() != 0 || closes.Load() != 1 {
		t.Errorf("expected end=1 error=0 close=1, got end=%d error=%d close=%d", ends.Load(), errs.Load(), closes.Load())
	}
	if c.State() != StateClosed {
		t.Errorf("expected CLOSED, got %s", c.State())
	}
}

func TestConn_CloseFrameIsEchoed(t *testing.T) {
	c, client := newPipeConn(t)
	ended := make(chan struct{})
	c.OnEnd(func() { close(ended) })
	go c.Serve(context.Background())

	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, StatusNormalClosure)
	go func() { _, _ = client.Write(maskedFrame(true, opClose, payload)) }()

	f, err := readServerFrame(client)
	if err != nil {
		t.Fatalf("read close echo: %v", err)
	}
	if f.opcode != opClose || !bytes.Equal(f.payload, payload) {
		t.Errorf("expected close frame with 1000, got %+v", f)
	}
	waitSignal(t, ended, "end listener")
}

func TestConn_PingIsAnsweredWithPong(t *testing.T) {
	c, client := newPipeConn(t)
	go c.Serve(context.Background())
	defer c.Close()

	go func() { _, _ = client.Write(maskedFrame(true, opPing, []byte("hi"))) }()

	f, err := readServerFrame(client)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if f.opcode != opPong || string(f.payload) != "hi" {
		t.Errorf("expected pong with payload hi, got %+v", f)
	}
}

func TestConn_DataFramesAreIgnored(t *testing.T) {
	c, client := newPipeConn(t)
	go c.Serve(context.Background())
	defer c.Close()

	if _, err := client.Write(maskedFrame(true, opText, []byte("hello server"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := client.Write(maskedFrame(false, opBinary, []byte{1, 2, 3})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if c.State() != StateOpen {
		t.Errorf("expected connection to stay OPEN, got %s", c.State())
	}
}

func TestConn_ProtocolViolationFiresError(t *testing.T) {
	c, client := newPipeConn(t)

	gotErr := make(chan error, 1)
	var ends atomic.Int32
	c.OnError(func(err error) { gotErr <- err })
	c.OnEnd(func() { ends.Add(1) })
	go c.Serve(context.Background())

	go func() { _, _ = client.Write([]byte{0x81, 0x02, 'h', 'i'}) }()

	select {
	case err := <-gotErr:
		if !errors.Is(err, ErrUnmaskedFrame) {
			t.Errorf("expected ErrUnmaskedFrame, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error listener")
	}
	waitSignal(t, c.Done(), "close")
	if ends.Load() != 0 {
		t.Errorf("end must not fire on a protocol error")
	}
}

func TestConn_DoubleCloseIsNoop(t *testing.T) {
	c, _ := newPipeConn(t)
	var closes atomic.Int32
	c.OnClose(func() { closes.Add(1) })

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close should not error: %v", err)
	}
	if closes.Load() != 1 {
		t.Errorf("expected close listener once, got %d", closes.Load())
	}
}

func TestConn_WriteAfterClose(t *testing.T) {
	c, _ := newPipeConn(t)
	c.Close()

	frame, _ := EncodeTextFrame("reload")
	if err := c.WriteFrame(frame); !errors.Is(err, ErrConnClosed) {
		t.Errorf("expected ErrConnClosed, got %v", err)
	}
}

func TestConn_OnCloseAfterClosedRunsImmediately(t *testing.T) {
	c, _ := newPipeConn(t)
	c.Close()

	ran := false
	c.OnClose(func() { ran = true })
	if !ran {
		t.Error("expected listener to run for an already closed connection")
	}
}

func TestConn_FailedWriteFiresError(t *testing.T) {
	c, client := newPipeConn(t)
	client.Close()

	var errs atomic.Int32
	c.OnError(func(error) { errs.Add(1) })

	frame, _ := EncodeTextFrame("reload")
	if err := c.WriteFrame(frame); err == nil {
		t.Fatal("expected write to a closed pipe to fail")
	}
	if errs.Load() != 1 {
		t.Errorf("expected one error event, got %d", errs.Load())
	}
	if c.State() != StateClosed {
		t.Errorf("expected CLOSED after failed write, got %s", c.State())
	}
}

func TestConn_ContextCancelCloses(t *testing.T) {
	c, _ := newPipeConn(t)
	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan struct{})
	go func() {
		c.Serve(ctx)
		close(served)
	}()

	cancel()
	waitSignal(t, served, "Serve to return")
	if c.State() != StateClosed {
		t.Errorf("expected CLOSED, got %s", c.State())
	}
}

func TestConn_PongTimeoutFails(t *testing.T) {
	c, client := newPipeConn(t,
		WithPingInterval(20*time.Millisecond),
		WithPongTimeout(60*time.Millisecond),
	)
	pings := drain(client)

	gotErr := make(chan error, 1)
	c.OnError(func(err error) { gotErr <- err })
	go c.Serve(context.Background())

	select {
	case f := <-pings:
		if f.opcode != opPing {
			t.Errorf("expected ping, got opcode %x", f.opcode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ping")
	}

	select {
	case err := <-gotErr:
		if !errors.Is(err, errPongTimeout) {
			t.Errorf("expected pong timeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pong timeout")
	}
}

func TestConn_PongKeepsConnectionAlive(t *testing.T) {
	c, client := newPipeConn(t,
		WithPingInterval(20*time.Millisecond),
		WithPongTimeout(80*time.Millisecond),
	)
	go c.Serve(context.Background())
	defer c.Close()

	// Answer every ping like a browser does.
	go func() {
		for {
			f, err := readServerFrame(client)
			if err != nil {
				return
			}
			if f.opcode == opPing {
				if _, err := client.Write(maskedFrame(true, opPong, f.payload)); err != nil {
					return
				}
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	if c.State() != StateOpen {
		t.Errorf("expected connection to stay OPEN while ponging, got %s", c.State())
	}
}

func TestState_String(t *testing.T) {
	if StateOpen.String() != "OPEN" || StateClosed.String() != "CLOSED" {
		t.Errorf("unexpected state names %q %q", StateOpen, StateClosed)
	}
}
