package websocket

import (
	"log/slog"
	"time"
)

// DefaultWriteTimeout bounds every frame write to a peer.
const DefaultWriteTimeout = 5 * time.Second

// DefaultPingInterval is the default interval between server-sent pings.
const DefaultPingInterval = 30 * time.Second

// DefaultPongTimeout is the maximum time to wait for a pong reply.
const DefaultPongTimeout = 60 * time.Second

// Options configures an upgraded WebSocket connection.
type Options struct {
	WriteTimeout time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
	PongTimeout  time.Duration
	Logger       *slog.Logger
}

// Option is a functional option for configuring a WebSocket connection.
type Option func(*Options)

// WithWriteTimeout sets the deadline applied to each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) { o.WriteTimeout = d }
}

// WithPingInterval sets the interval between server-sent pings.
func WithPingInterval(d time.Duration) Option {
	return func(o *Options) { o.PingInterval = d }
}

// WithPongTimeout sets the maximum time to wait for a pong reply.
func WithPongTimeout(d time.Duration) Option {
	return func(o *Options) { o.PongTimeout = d }
}

// WithLogger sets the logger for the connection.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func defaultOptions() Options {
	return Options{
		WriteTimeout: DefaultWriteTimeout,
		PingInterval: DefaultPingInterval,
		PongTimeout:  DefaultPongTimeout,
		Logger:       slog.Default(),
	}
}

func applyOptions(opts []Option) Options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PingInterval > 0 && o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	return o
}
