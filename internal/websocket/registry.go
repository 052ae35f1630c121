package websocket

import (
	"context"
	"log/slog"
	"sync"
)

// ConnectionRegistry tracks open WebSocket connections, removes them on
// close, end or error, and fans frames out to all of them.
type ConnectionRegistry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
	log   *slog.Logger

	// sendMu serializes broadcasts so every connection sees frames in the
	// order Broadcast was called.
	sendMu sync.Mutex

	onAdd    func(*Conn)
	onRemove func(*Conn)
}

// RegistryOption configures a ConnectionRegistry.
type RegistryOption func(*ConnectionRegistry)

// WithMembershipHooks sets callbacks run after a connection is added to or
// removed from the set.
func WithMembershipHooks(onAdd, onRemove func(*Conn)) RegistryOption {
	return func(r *ConnectionRegistry) {
		r.onAdd = onAdd
		r.onRemove = onRemove
	}
}

// NewRegistry creates a new ConnectionRegistry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *ConnectionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ConnectionRegistry{
		conns: make(map[*Conn]struct{}),
		log:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers c and subscribes to its close, end and error events, each of
// which removes it again. Adding a connection that is already present is a
// no-op and returns false.
func (r *ConnectionRegistry) Add(c *Conn) bool {
	r.mu.Lock()
	if _, ok := r.conns[c]; ok {
		r.mu.Unlock()
		return false
	}
	r.conns[c] = struct{}{}
	count := len(r.conns)
	r.mu.Unlock()

	r.log.Info("websocket client connected", slog.String("remote", c.RemoteAddr()), slog.Int("clients", count))
	if r.onAdd != nil {
		r.onAdd(c)
	}

	c.OnEnd(func() { r.Remove(c) })
	c.OnError(func(error) { r.Remove(c) })
	c.OnClose(func() { r.Remove(c) })
	return true
}

// Remove drops c from the registry. It returns false, and logs nothing, when
// c is not present.
func (r *ConnectionRegistry) Remove(c *Conn) bool {
	r.mu.Lock()
	if _, ok := r.conns[c]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c)
	count := len(r.conns)
	r.mu.Unlock()

	r.log.Info("websocket client disconnected", slog.String("remote", c.RemoteAddr()), slog.Int("clients", count))
	if r.onRemove != nil {
		r.onRemove(c)
	}
	return true
}

// Count returns the number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the connections registered at the time of the call.
func (r *ConnectionRegistry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// Broadcast writes frame to every open connection. A failed write only
// affects that connection; it is dropped through its error listener and
// delivery to the rest continues.
func (r *ConnectionRegistry) Broadcast(frame []byte) (delivered, failed int) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	for _, c := range r.Snapshot() {
		if c.State() == StateClosed {
			continue
		}
		if err := c.WriteFrame(frame); err != nil {
			failed++
			r.log.Debug("websocket frame not delivered", slog.String("remote", c.RemoteAddr()), slog.String("error", err.Error()))
			continue
		}
		delivered++
	}
	return delivered, failed
}

// CloseAll sends a going-away close frame to every registered connection and
// closes it. It waits for each close to complete or for the context to expire.
func (r *ConnectionRegistry) CloseAll(ctx context.Context) {
	snapshot := r.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	r.log.Info("closing all WebSocket connections", slog.Int("count", len(snapshot)))

	var wg sync.WaitGroup
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			_ = c.CloseWithStatus(StatusGoingAway, "server shutting down")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("all WebSocket connections closed")
	case <-ctx.Done():
		r.log.Warn("shutdown timeout reached, some WebSocket connections may not have closed cleanly")
	}
}
