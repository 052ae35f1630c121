package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
)

// Filter decides whether a request is forwarded to a proxy route. It holds
// either a pathname pattern or a request predicate.
type Filter struct {
	pattern   *regexp.Regexp
	predicate func(*http.Request) bool
}

// Pattern matches requests whose pathname matches re.
func Pattern(re *regexp.Regexp) Filter {
	return Filter{pattern: re}
}

// Predicate matches requests for which fn returns true.
func Predicate(fn func(*http.Request) bool) Filter {
	return Filter{predicate: fn}
}

// Match reports whether r, with the given pathname, is selected.
func (f Filter) Match(r *http.Request, pathname string) bool {
	switch {
	case f.pattern != nil:
		return f.pattern.MatchString(pathname)
	case f.predicate != nil:
		return f.predicate(r)
	default:
		return false
	}
}

func (f Filter) String() string {
	switch {
	case f.pattern != nil:
		return "/" + f.pattern.String() + "/"
	case f.predicate != nil:
		return "<predicate>"
	default:
		return "<empty>"
	}
}

// ProxyOptions describes one proxy route.
type ProxyOptions struct {
	Filter Filter
	Host   string
	// Port is optional; zero uses the scheme default.
	Port  int
	HTTPS bool
}

// ErrProxyHost is returned when a proxy route has no upstream host.
var ErrProxyHost = errors.New("please provide host for proxy option")

// Proxy forwards matching requests to an upstream host.
type Proxy struct {
	filter Filter
	target *url.URL
	rp     *httputil.ReverseProxy
}

// NewProxy builds a proxy route. The upstream sees its own host in the Host
// header and a Referer pointing at itself, with the request path and query
// unchanged. Upstream failures answer 404 with the error text.
func NewProxy(opts ProxyOptions, logger *slog.Logger) (*Proxy, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w with filter %q", ErrProxyHost, opts.Filter.String())
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheme := "http"
	if opts.HTTPS {
		scheme = "https"
	}
	host := opts.Host
	if opts.Port != 0 {
		host = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	}
	target := &url.URL{Scheme: scheme, Host: host}
	referer := scheme + "://" + opts.Host

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = opts.Host
			pr.Out.Header.Set("Referer", referer)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("proxy request failed",
				slog.String("upstream", target.String()),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(err.Error()))
		},
	}
	return &Proxy{filter: opts.Filter, target: target, rp: rp}, nil
}

// Matches reports whether the route selects r.
func (p *Proxy) Matches(r *http.Request, pathname string) bool {
	return p.filter.Match(r, pathname)
}

// Target returns the upstream base URL.
func (p *Proxy) Target() string {
	return p.target.String()
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}
