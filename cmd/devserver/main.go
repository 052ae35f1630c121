package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rathix/devserver/internal/build"
	appconfig "github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/livereload"
	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/server"
)

const (
	defaultAddr     = ":3000"
	shutdownTimeout = 10 * time.Second
)

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds all server configuration.
type config struct {
	ListenAddr  string
	Dir         string
	IndexPath   string
	Verbose     bool
	LogFormat   string
	LogFile     string
	ConfigFile  string
	EntryPoints []string
	Outdir      string
	WatchDir    string
	Metrics     bool

	// From the YAML config file only.
	Proxies      []server.ProxyOptions
	ConfigErrors []error
}

// stringList is a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("devserver version %s\n", Version)
			return
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags, environment variables and the optional YAML file
// with precedence: Flag > Env > YAML > Default.
func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("devserver", flag.ContinueOnError)

	cfg := config{}
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	fs.StringVar(&cfg.Dir, "dir", getEnv("DEV_DIR", "."), "directory to serve static files from")
	fs.StringVar(&cfg.IndexPath, "index", getEnv("INDEX_PATH", ""), "index HTML file (default <dir>/index.html)")
	fs.BoolVar(&cfg.Verbose, "verbose", getEnvBool("VERBOSE", true), "log every request")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")
	fs.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", ""), "also write logs to this rotating file")
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", ""), "path to YAML config file")
	fs.StringVar(&cfg.Outdir, "outdir", getEnv("OUTDIR", ""), "esbuild output directory (default <dir>)")
	fs.StringVar(&cfg.WatchDir, "watch-dir", getEnv("WATCH_DIR", ""), "reload when files under this directory change")
	fs.BoolVar(&cfg.Metrics, "metrics", getEnvBool("METRICS", false), "serve prometheus metrics at /metrics")

	var entries stringList
	fs.Var(&entries, "entry", "esbuild entry point (repeatable)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.EntryPoints = entries
	if len(cfg.EntryPoints) == 0 {
		cfg.EntryPoints = splitList(getEnv("ENTRY_POINTS", ""))
	}

	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	// given reports whether a setting came from a flag or its env var.
	given := func(flagName, envKey string) bool {
		if setFlags[flagName] {
			return true
		}
		_, ok := os.LookupEnv(envKey)
		return ok
	}

	dirSet := given("dir", "DEV_DIR")
	if cfg.ConfigFile != "" {
		fileCfg, errs := appconfig.Load(cfg.ConfigFile)
		if fileCfg == nil {
			return config{}, errors.Join(errs...)
		}
		cfg.ConfigErrors = errs
		applyFileConfig(&cfg, fileCfg, given)
		dirSet = dirSet || fileCfg.Dir != ""
	}

	// The served directory follows the bundler output unless set explicitly.
	if !dirSet && cfg.Outdir != "" {
		cfg.Dir = cfg.Outdir
	}
	if cfg.Outdir == "" {
		cfg.Outdir = cfg.Dir
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}

	return cfg, nil
}

// applyFileConfig copies YAML values into cfg where no flag or env var was given.
func applyFileConfig(cfg *config, fc *appconfig.Config, given func(flagName, envKey string) bool) {
	if fc.ListenAddr != "" && !given("listen-addr", "LISTEN_ADDR") {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.Dir != "" && !given("dir", "DEV_DIR") {
		cfg.Dir = fc.Dir
	}
	if fc.IndexPath != "" && !given("index", "INDEX_PATH") {
		cfg.IndexPath = fc.IndexPath
	}
	if fc.Verbose != nil && !given("verbose", "VERBOSE") {
		cfg.Verbose = *fc.Verbose
	}
	if len(fc.Build.EntryPoints) > 0 && !given("entry", "ENTRY_POINTS") {
		cfg.EntryPoints = fc.Build.EntryPoints
	}
	if fc.Build.Outdir != "" && !given("outdir", "OUTDIR") {
		cfg.Outdir = fc.Build.Outdir
	}
	if fc.Build.WatchDir != "" && !given("watch-dir", "WATCH_DIR") {
		cfg.WatchDir = fc.Build.WatchDir
	}
	cfg.Proxies = proxyOptions(fc.Proxy)
}

func proxyOptions(routes []appconfig.ProxyConfig) []server.ProxyOptions {
	opts := make([]server.ProxyOptions, 0, len(routes))
	for _, p := range routes {
		opts = append(opts, server.ProxyOptions{
			Filter: server.Pattern(p.Regexp()),
			Host:   p.Host,
			Port:   p.Port,
			HTTPS:  p.HTTPS,
		})
	}
	return opts
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

// setupLogger builds the process logger. With logFile set, output is also
// written to a rotating file and the returned func must be called on exit.
func setupLogger(format, logFile string) (*slog.Logger, func()) {
	if logFile == "" {
		return setupLoggerWithWriter(format, os.Stdout, false), func() {}
	}
	file := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	}
	return setupLoggerWithWriter(format, io.MultiWriter(os.Stdout, file), true), func() { _ = file.Close() }
}

func setupLoggerWithWriter(format string, writer io.Writer, noColor bool) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = tint.NewHandler(writer, &tint.Options{
			TimeFormat: time.Kitchen,
			NoColor:    noColor,
		})
	} else {
		handler = slog.NewJSONHandler(writer, nil)
	}
	return slog.New(handler)
}

// app is the wired development server.
type app struct {
	handler   http.Handler
	site      *server.Handler
	reload    *livereload.Server
	lifecycle *build.Lifecycle
}

// newApp wires the live-reload channel, the site handler and the build
// lifecycle. reg is nil when metrics are disabled.
func newApp(cfg config, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	var lrOpts []livereload.Option
	siteOpts := server.Options{
		Dir:       cfg.Dir,
		IndexPath: cfg.IndexPath,
		Proxies:   cfg.Proxies,
		Verbose:   cfg.Verbose,
		Logger:    logger,
	}
	if reg != nil {
		collector := metrics.NewCollector(reg)
		lrOpts = append(lrOpts, livereload.WithObserver(collector))
		siteOpts.Observer = collector
	}

	lr := livereload.NewServer(logger, lrOpts...)
	site, err := server.New(siteOpts)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if reg != nil {
		mux.Handle("GET /metrics", metrics.Handler(reg))
	}
	mux.Handle("/", site)

	lifecycle := &build.Lifecycle{}
	livereload.Bridge(lifecycle, lr)

	return &app{
		handler:   server.UpgradeRouter(lr, mux),
		site:      site,
		reload:    lr,
		lifecycle: lifecycle,
	}, nil
}

// run starts the server and handles graceful shutdown.
func run(ctx context.Context, cfg config) error {
	logger, closeLog := setupLogger(cfg.LogFormat, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("Starting devserver", "version", Version)
	for _, e := range cfg.ConfigErrors {
		slog.Warn("Config validation error", "error", e)
	}

	var reg *prometheus.Registry
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	a, err := newApp(cfg, logger, reg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Development server listening", "url", displayURL(ln.Addr()), "dir", cfg.Dir)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Shutdown does not track hijacked connections, so live-reload
		// sockets are closed explicitly.
		err := srv.Shutdown(shutdownCtx)
		a.reload.Close(shutdownCtx)
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	})

	if len(cfg.EntryPoints) > 0 {
		g.Go(func() error {
			err := build.Watch(gctx, build.Options{
				EntryPoints: cfg.EntryPoints,
				Outdir:      cfg.Outdir,
				LogLevel:    api.LogLevelInfo,
			}, a.lifecycle, logger)
			if err != nil {
				return fmt.Errorf("esbuild watch failed: %w", err)
			}
			return nil
		})
	}

	if cfg.WatchDir != "" {
		g.Go(func() error {
			if err := build.NewDirWatcher(cfg.WatchDir, a.lifecycle, logger).Run(gctx); err != nil {
				return fmt.Errorf("output watcher failed: %w", err)
			}
			return nil
		})
	}

	if cfg.ConfigFile != "" {
		g.Go(func() error {
			w := appconfig.NewWatcher(cfg.ConfigFile, func(fc *appconfig.Config, errs []error) {
				reloadProxies(a.site, fc, errs)
			}, logger)
			if err := w.Run(gctx); err != nil {
				// Losing config reloads is not fatal to serving.
				slog.Warn("config watcher stopped with error", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// reloadProxies applies the proxy routes of a re-read config file. Other
// settings need a restart.
func reloadProxies(site *server.Handler, fc *appconfig.Config, errs []error) {
	for _, e := range errs {
		slog.Warn("Config validation error", "error", e)
	}
	if fc == nil {
		slog.Warn("Config reload skipped, keeping current proxy routes")
		return
	}
	if err := site.SetProxies(proxyOptions(fc.Proxy)); err != nil {
		slog.Warn("Failed to apply proxy routes", "error", err)
		return
	}
	slog.Info("Proxy routes reloaded", "routes", len(fc.Proxy))
}

// displayURL renders a listener address as a browsable URL.
func displayURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
