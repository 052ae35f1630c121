// Package livereload pushes rebuild and reload notifications to browser tabs
// over a hand-rolled WebSocket endpoint.
package livereload

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rathix/devserver/internal/websocket"
)

// Path is the only upgrade target the server accepts.
const Path = "/livereload"

const rejectText = "UNSUPPORTED URL\r\n"

// Observer receives live-reload channel events. Defined here at the consumer;
// internal/metrics provides the prometheus implementation.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	HandshakeRejected(reason string)
	MessageSent(kind MessageKind, delivered, failed int)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()                 {}
func (nopObserver) ConnectionClosed()                 {}
func (nopObserver) HandshakeRejected(string)          {}
func (nopObserver) MessageSent(MessageKind, int, int) {}

// Server accepts live-reload WebSocket upgrades and broadcasts messages to
// every open connection.
type Server struct {
	registry *websocket.ConnectionRegistry
	logger   *slog.Logger
	observer Observer
	connOpts []websocket.Option
}

// Option configures a Server.
type Option func(*Server)

// WithObserver reports connection and broadcast events to o.
func WithObserver(o Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithConnOptions applies opts to every upgraded connection.
func WithConnOptions(opts ...websocket.Option) Option {
	return func(s *Server) { s.connOpts = append(s.connOpts, opts...) }
}

// NewServer creates a live-reload server with an empty connection registry.
func NewServer(logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:   logger,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.connOpts = append([]websocket.Option{websocket.WithLogger(logger)}, s.connOpts...)
	s.registry = websocket.NewRegistry(logger, websocket.WithMembershipHooks(
		func(*websocket.Conn) { s.observer.ConnectionOpened() },
		func(*websocket.Conn) { s.observer.ConnectionClosed() },
	))
	return s
}

// ServeHTTP handles an upgrade request. Requests for any path other than
// Path, and requests that fail handshake validation, get the plain-text
// rejection on the raw socket and are never registered. An accepted
// connection is served until the peer goes away or the server closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != Path {
		s.reject(w, r, "unsupported path")
		return
	}

	conn, err := websocket.Upgrade(w, r, s.connOpts...)
	if err != nil {
		var hsErr *websocket.HandshakeError
		if errors.As(err, &hsErr) {
			s.reject(w, r, hsErr.Error())
			return
		}
		s.logger.Warn("live reload upgrade failed", slog.String("error", err.Error()))
		return
	}

	s.registry.Add(conn)
	conn.Serve(r.Context())
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, reason string) {
	s.observer.HandshakeRejected(reason)
	s.logger.Debug("live reload upgrade rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", reason))
	if err := websocket.Reject(w, rejectText); err != nil {
		s.logger.Debug("failed to write upgrade rejection", slog.String("error", err.Error()))
	}
}

// Send encodes kind once and writes it to every open connection. Delivery
// failures stay with the connection that failed.
func (s *Server) Send(kind MessageKind) {
	frame, err := websocket.EncodeTextFrame(kind.Token())
	if err != nil {
		s.logger.Error("failed to encode live reload message", slog.String("message", kind.String()), slog.String("error", err.Error()))
		return
	}
	delivered, failed := s.registry.Broadcast(frame)
	s.observer.MessageSent(kind, delivered, failed)
	s.logger.Debug("live reload message sent",
		slog.String("message", kind.Token()),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed))
}

// SendRebuildStarted tells every tab a rebuild is in progress.
func (s *Server) SendRebuildStarted() {
	s.Send(RebuildStarted)
}

// SendReload tells every tab to reload the page.
func (s *Server) SendReload() {
	s.Send(Reload)
}

// Connections returns the number of open live-reload connections.
func (s *Server) Connections() int {
	return s.registry.Count()
}

// Close sends a going-away close frame to every connection and closes it.
func (s *Server) Close(ctx context.Context) {
	s.registry.CloseAll(ctx)
}
