package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/internal/store"
	"github.com/jpalmerr/postrelay/usage"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second
	requestTimeout  = 30 * time.Second
)

// Lister is the part of the source registry the API reads.
type Lister interface {
	List(ctx context.Context) ([]poller.Source, error)
}

// Server serves the status API.
type Server struct {
	store    store.Store
	sources  Lister
	meter    usage.Meter
	gatherer prometheus.Gatherer
	port     int
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// Option configures a [Server].
type Option func(*Server)

// WithSources adds configuration details to /api/sources.
func WithSources(l Lister) Option {
	return func(s *Server) { s.sources = l }
}

// WithUsage enables /api/usage.
func WithUsage(m usage.Meter) Option {
	return func(s *Server) { s.meter = m }
}

// WithGatherer enables /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new HTTP [Server] on port. Port 0 picks a free port.
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, port int, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  st,
		port:   port,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// the event stream is long-lived and must not inherit the request timeout
		r.Get("/sse", s.handleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/sources", s.handleSources)
			r.Get("/sources/{name}", s.handleSource)
			r.Get("/usage", s.handleUsage)
		})
	})
	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE handlers exit on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// SourceView is one entry of /api/sources. The delivery target is never
// exposed; only whether one is set.
type SourceView struct {
	Name            string              `json:"name"`
	IntervalMinutes float64             `json:"interval_minutes,omitempty"`
	Enabled         bool                `json:"enabled"`
	Configured      bool                `json:"configured"`
	LastChecked     *time.Time          `json:"last_checked,omitempty"`
	Status          *store.SourceStatus `json:"status,omitempty"`
}

// views merges the registry with stored statuses. Sources known only to the
// store (removed since their last scan) are listed after the registry ones.
func (s *Server) views(ctx context.Context) ([]SourceView, error) {
	statuses := s.store.GetAll()
	byName := make(map[string]store.SourceStatus, len(statuses))
	for _, st := range statuses {
		byName[st.Name] = st
	}

	var views []SourceView
	if s.sources != nil {
		srcs, err := s.sources.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, src := range srcs {
			v := SourceView{
				Name:            src.Name,
				IntervalMinutes: src.Interval.Minutes(),
				Enabled:         src.Enabled,
				Configured:      src.Target != "",
			}
			if !src.LastChecked.IsZero() {
				lc := src.LastChecked
				v.LastChecked = &lc
			}
			if st, ok := byName[src.Name]; ok {
				v.Status = &st
				delete(byName, src.Name)
			}
			views = append(views, v)
		}
	}

	for _, st := range statuses {
		if _, ok := byName[st.Name]; !ok {
			continue
		}
		st := st
		views = append(views, SourceView{Name: st.Name, Status: &st})
	}
	if views == nil {
		views = []SourceView{}
	}
	return views, nil
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	views, err := s.views(r.Context())
	if err != nil {
		s.logger.Error("listing sources failed", "error", err)
		http.Error(w, "failed to list sources", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, views)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	views, err := s.views(r.Context())
	if err != nil {
		s.logger.Error("listing sources failed", "error", err)
		http.Error(w, "failed to list sources", http.StatusInternalServerError)
		return
	}
	for _, v := range views {
		if v.Name == name {
			s.writeJSON(w, v)
			return
		}
	}
	http.NotFound(w, r)
}

// UsageView is the /api/usage body.
type UsageView struct {
	Stats     usage.Stats       `json:"stats"`
	Formatted map[string]string `json:"formatted"`
	Record    usage.Record      `json:"record"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.meter == nil {
		http.Error(w, "usage metering disabled", http.StatusNotFound)
		return
	}
	stats, err := s.meter.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading usage failed", "error", err)
		http.Error(w, "failed to read usage", http.StatusInternalServerError)
		return
	}
	rec, err := s.meter.Record(r.Context())
	if err != nil {
		s.logger.Error("reading usage failed", "error", err)
		http.Error(w, "failed to read usage", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, UsageView{
		Stats: stats,
		Formatted: map[string]string{
			"today":      usage.FormatBytes(stats.Today),
			"this_week":  usage.FormatBytes(stats.ThisWeek),
			"this_month": usage.FormatBytes(stats.ThisMonth),
		},
		Record: rec,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams status updates via Server-Sent Events.
//
// Writes carry a deadline so a stalled client cannot pin the handler past
// shutdown.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// send current statuses first
	for _, status := range s.store.GetAll() {
		data, err := json.Marshal(status)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case status, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(status)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and, via BaseContext, on server shutdown
			return
		}
	}
}
