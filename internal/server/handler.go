// Package server implements the development HTTP handler: static build
// output, the index page with the live-reload script, and proxy routes.
package server

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/rathix/devserver/internal/livereload"
)

// RequestKind classifies an incoming request.
type RequestKind int

const (
	KindLiveReloadScript RequestKind = iota
	KindProxy
	KindFile
	KindHTML
)

func (k RequestKind) String() string {
	switch k {
	case KindLiveReloadScript:
		return "LIVERELOAD SCRIPT"
	case KindProxy:
		return "PROXY"
	case KindFile:
		return "FILE"
	case KindHTML:
		return "HTML"
	default:
		return "UNKNOWN"
	}
}

// RequestObserver is told about every classified request.
type RequestObserver interface {
	RequestServed(kind RequestKind)
}

// Options configures a Handler.
type Options struct {
	// Dir is the directory static files are served from.
	Dir string
	// IndexPath overrides Dir/index.html.
	IndexPath string
	Proxies   []ProxyOptions
	// Verbose logs one line per request.
	Verbose  bool
	Logger   *slog.Logger
	Observer RequestObserver
}

// Handler serves the development site.
type Handler struct {
	dir      string
	index    []byte
	proxies  atomic.Pointer[[]*Proxy]
	script   http.Handler
	verbose  bool
	logger   *slog.Logger
	observer RequestObserver
}

// New reads the index page and validates the proxy routes. The index is read
// once; edits to it need a restart.
func New(opts Options) (*Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(opts.Dir, "index.html")
	}
	index, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("Index HTML file not found in %q", indexPath)
	}

	h := &Handler{
		dir:      opts.Dir,
		index:    livereload.InjectScript(index),
		script:   livereload.ScriptHandler(),
		verbose:  opts.Verbose,
		logger:   logger,
		observer: opts.Observer,
	}
	if err := h.SetProxies(opts.Proxies); err != nil {
		return nil, err
	}
	return h, nil
}

// SetProxies replaces the proxy routes. On error the current routes stay.
func (h *Handler) SetProxies(routes []ProxyOptions) error {
	proxies := make([]*Proxy, 0, len(routes))
	for _, po := range routes {
		p, err := NewProxy(po, h.logger)
		if err != nil {
			return err
		}
		proxies = append(proxies, p)
	}
	h.proxies.Store(&proxies)
	return nil
}

// Classify returns the kind of r and, for KindProxy, the matching route.
// The live-reload script wins over proxies, the first matching proxy wins
// over files, and anything without an extension is the index page.
func (h *Handler) Classify(r *http.Request) (RequestKind, *Proxy) {
	pathname := r.URL.Path
	if pathname == livereload.ScriptPath {
		return KindLiveReloadScript, nil
	}
	for _, p := range *h.proxies.Load() {
		if p.Matches(r, pathname) {
			return KindProxy, p
		}
	}
	if path.Ext(pathname) != "" {
		return KindFile, nil
	}
	return KindHTML, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, proxy := h.Classify(r)
	if h.verbose {
		h.logger.Info(kind.String(),
			slog.String("method", r.Method),
			slog.String("url", r.URL.RequestURI()))
	}
	if h.observer != nil {
		h.observer.RequestServed(kind)
	}

	switch kind {
	case KindLiveReloadScript:
		h.script.ServeHTTP(w, r)
	case KindProxy:
		proxy.ServeHTTP(w, r)
	case KindFile:
		h.serveFile(w, r.URL.Path)
	default:
		h.serveIndex(w)
	}
}

func (h *Handler) serveFile(w http.ResponseWriter, resource string) {
	// Cleaning a rooted path drops any ".." that would climb above dir.
	filePath := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+resource)))
	content, err := os.ReadFile(filePath)
	if err != nil {
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, "Resource %q not found in %q", resource, filePath)
		return
	}
	w.Header().Set("Content-Type", contentType(filePath))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(content)
}

func (h *Handler) serveIndex(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(h.index)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
