package websocket

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// acceptGUID is the fixed key suffix defined in RFC 6455 Section 1.3.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handshake errors.
var (
	ErrBadMethod     = errors.New("upgrade request must use GET")
	ErrMissingKey    = errors.New("missing Sec-WebSocket-Key header")
	ErrInvalidKey    = errors.New("invalid Sec-WebSocket-Key header")
	ErrNotHijackable = errors.New("response writer does not support hijacking")
)

// HandshakeError describes why an upgrade request was not accepted.
type HandshakeError struct {
	Err    error
	Detail string
}

func (e *HandshakeError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client nonce key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// CheckKey reports whether key is a base64-encoded 16-byte nonce.
func CheckKey(key string) error {
	if key == "" {
		return &HandshakeError{Err: ErrMissingKey}
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return &HandshakeError{Err: ErrInvalidKey, Detail: err.Error()}
	}
	if len(raw) != 16 {
		return &HandshakeError{Err: ErrInvalidKey, Detail: fmt.Sprintf("decoded length %d, want 16", len(raw))}
	}
	return nil
}

// IsUpgradeRequest reports whether r asks to switch to the websocket protocol.
func IsUpgradeRequest(r *http.Request) bool {
	return headerHasToken(r.Header, "Connection", "upgrade") &&
		headerHasToken(r.Header, "Upgrade", "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// handshakeResponse renders the 101 response: four CRLF-terminated lines and
// a blank line.
func handshakeResponse(accept string) []byte {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: " + accept + "\r\n")
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// Hijack takes over the raw connection behind w. The returned reader holds
// any bytes the HTTP server already buffered past the request headers.
func Hijack(w http.ResponseWriter) (net.Conn, *bufio.Reader, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, ErrNotHijackable
	}
	nc, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack connection: %w", err)
	}
	return nc, brw.Reader, nil
}

// Reject writes message directly onto the raw socket and closes it. When the
// writer cannot be hijacked the message is sent as a plain 400 response.
func Reject(w http.ResponseWriter, message string) error {
	nc, _, err := Hijack(w)
	if errors.Is(err, ErrNotHijackable) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, werr := w.Write([]byte(message))
		return werr
	}
	if err != nil {
		return err
	}
	defer nc.Close()
	_ = nc.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	if _, err := nc.Write([]byte(message)); err != nil {
		return fmt.Errorf("write rejection: %w", err)
	}
	return nil
}

// Upgrade validates r, hijacks the connection and writes the switching
// protocols response. The returned Conn is OPEN but not yet reading; call
// Serve to start lifecycle tracking. Validation failures return a
// *HandshakeError before anything is written, so the caller can still
// Reject the request.
func Upgrade(w http.ResponseWriter, r *http.Request, options ...Option) (*Conn, error) {
	if r.Method != http.MethodGet {
		return nil, &HandshakeError{Err: ErrBadMethod, Detail: r.Method}
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if err := CheckKey(key); err != nil {
		return nil, err
	}

	nc, br, err := Hijack(w)
	if err != nil {
		return nil, err
	}

	opts := applyOptions(options)
	_ = nc.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
	if _, err := nc.Write(handshakeResponse(AcceptKey(key))); err != nil {
		nc.Close()
		return nil, fmt.Errorf("write handshake response: %w", err)
	}
	_ = nc.SetWriteDeadline(time.Time{})

	return newConn(nc, br, opts), nil
}
