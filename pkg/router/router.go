package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const ansiReset = "\033[0m"

var (
	methodColors = map[string]string{
		http.MethodGet:    "\033[32m",
		http.MethodPost:   "\033[34m",
		http.MethodPut:    "\033[33m",
		http.MethodPatch:  "\033[33m",
		http.MethodDelete: "\033[31m",
	}
	// indexed by status class (status / 100)
	statusColors = [...]string{"\033[31m", "\033[31m", "\033[32m", "\033[36m", "\033[33m", "\033[31m"}
)

// HandlerFunc handles one routed request
type HandlerFunc func(http.ResponseWriter, *http.Request)

// Router is a method-aware wrapper over http.ServeMux with "*" segment
// patterns and colored access logs
type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger
	color  bool

	mu     sync.RWMutex
	routes map[string]HandlerFunc // "METHOD:path"
	paths  map[string]bool
}

// Option customizes a Router
type Option func(*Router)

// WithLogger sets the access logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithColor toggles ANSI colors in the access log message
func WithColor(enabled bool) Option {
	return func(r *Router) { r.color = enabled }
}

// New creates a router
func New(opts ...Option) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: slog.Default(),
		color:  true,
		routes: make(map[string]HandlerFunc),
		paths:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	// everything not mounted via Handle goes through method routing
	r.mux.HandleFunc("/", r.dispatch)
	return r
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	if h, status := r.lookup(req.Method, req.URL.Path); h != nil {
		h(rec, req)
	} else {
		http.Error(rec, http.StatusText(status), status)
	}

	r.logRequest(req, rec.status, start)
}

// lookup finds the handler for method and path, or the status to answer with
func (r *Router) lookup(method, path string) (HandlerFunc, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.routes[method+":"+path]; ok {
		return h, 0
	}

	// longest matching wildcard pattern wins
	var best string
	for pattern := range r.paths {
		if !strings.Contains(pattern, "*") || len(pattern) <= len(best) {
			continue
		}
		if _, ok := r.routes[method+":"+pattern]; ok && matchWildcardRoute(path, pattern) {
			best = pattern
		}
	}
	if best != "" {
		return r.routes[method+":"+best], 0
	}

	if r.paths[path] {
		return nil, http.StatusMethodNotAllowed
	}
	return nil, http.StatusNotFound
}

func (r *Router) logRequest(req *http.Request, status int, start time.Time) {
	elapsed := time.Since(start)
	msg := req.Method + " " + req.URL.Path + " " + strconv.Itoa(status)
	if r.color {
		msg = fmt.Sprintf("%s %s %s \033[34m(%v)%s",
			paint(methodColor(req.Method), req.Method), req.URL.Path,
			paint(statusColor(status), strconv.Itoa(status)), elapsed, ansiReset)
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	r.logger.LogAttrs(req.Context(), level, msg,
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}

// matchWildcardRoute reports whether path fits pattern. A "*" segment matches
// exactly one segment, except in last position where it matches zero or more.
func matchWildcardRoute(path, pattern string) bool {
	rest := strings.Trim(path, "/")
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	for i, want := range parts {
		if want == "*" && i == len(parts)-1 {
			return true
		}
		var got string
		var more bool
		got, rest, more = strings.Cut(rest, "/")
		if want != "*" && want != got {
			return false
		}
		if !more && i < len(parts)-1 {
			// "/a" still fits "/a/*"
			return i == len(parts)-2 && parts[i+1] == "*"
		}
		if more && i == len(parts)-1 {
			return false
		}
	}
	return true
}

func (r *Router) register(method, path string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[method+":"+path] = handler
	r.paths[path] = true
}

func (r *Router) GET(path string, handler HandlerFunc)   { r.register(http.MethodGet, path, handler) }
func (r *Router) POST(path string, handler HandlerFunc)  { r.register(http.MethodPost, path, handler) }
func (r *Router) PUT(path string, handler HandlerFunc)   { r.register(http.MethodPut, path, handler) }
func (r *Router) PATCH(path string, handler HandlerFunc) { r.register(http.MethodPatch, path, handler) }
func (r *Router) DELETE(path string, handler HandlerFunc) {
	r.register(http.MethodDelete, path, handler)
}

// Handle mounts a plain http.Handler (metrics, docs) on the underlying mux
// using ServeMux pattern rules, bypassing method routing
func (r *Router) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// Routes returns a copy of the registered handlers keyed by "METHOD:path"
func (r *Router) Routes() map[string]HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.routes)
}

// Paths returns a copy of every registered path regardless of method
func (r *Router) Paths() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.paths)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds
func (r *Router) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	r.logger.Info("server started", "url", "http://localhost"+addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// statusRecorder remembers the status written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func paint(color, s string) string { return color + s + ansiReset }

func statusColor(code int) string {
	if class := code / 100; class >= 0 && class < len(statusColors) {
		return statusColors[class]
	}
	return statusColors[0]
}

func methodColor(method string) string {
	if c, ok := methodColors[method]; ok {
		return c
	}
	return "\033[36m"
}
