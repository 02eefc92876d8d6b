// Package gateway wires the HTTP-facing control-plane surface: pluggable
// service proxying under the UI prefix and change-driven snapshot streaming
// for state-watching clients.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sigmod/ns-server/cluster"
	"github.com/sigmod/ns-server/config"
	"github.com/sigmod/ns-server/errors"
	"github.com/sigmod/ns-server/health"
	"github.com/sigmod/ns-server/longpoll"
	"github.com/sigmod/ns-server/metric"
	"github.com/sigmod/ns-server/notify"
	"github.com/sigmod/ns-server/plugin"
	"github.com/sigmod/ns-server/proxy"
	"github.com/sigmod/ns-server/snapcache"
)

// snapshotTTL is the nominal lifetime of a cached snapshot; the change
// token invalidates entries long before this in an active cluster
const snapshotTTL = 30 * time.Second

// Cache keys for the state snapshots
const (
	keyPoolInfo     = "pool-info"
	keyNodeServices = "node-services"
)

// Dependencies carries everything a Server needs. Registry, Bus, Revision
// and Builder are required; the rest default sensibly.
type Dependencies struct {
	Config     *config.Config
	Registry   *plugin.Registry
	Relay      *proxy.Relay
	Bus        *notify.Bus
	Revision   cluster.TokenSource
	Builder    SnapshotBuilder
	Authorizer Authorizer
	Health     *health.Monitor
	Metrics    *metric.MetricsRegistry
	Logger     *slog.Logger
}

// Server is the HTTP control-plane gateway.
type Server struct {
	cfg        *config.Config
	registry   *plugin.Registry
	relay      *proxy.Relay
	session    *longpoll.Session
	cache      *snapcache.Cache[longpoll.Snapshot]
	revision   cluster.TokenSource
	builder    SnapshotBuilder
	authorizer Authorizer
	limiter    *rate.Limiter
	health     *health.Monitor
	logger     *slog.Logger
	metrics    *metric.Metrics
	metricsH   http.Handler
}

// NewServer validates the dependencies and builds the gateway.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"plugin registry is required")
	}
	if deps.Bus == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"notification bus is required")
	}
	if deps.Revision == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"change token source is required")
	}
	if deps.Builder == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"snapshot builder is required")
	}

	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authorizer := deps.Authorizer
	if authorizer == nil {
		// Authorization decisioning lives outside the gateway; absent a
		// collaborator everything is allowed
		authorizer = AuthorizerFunc(func(*http.Request, string) bool { return true })
	}

	var coreMetrics *metric.Metrics
	var metricsHandler http.Handler
	sessionOpts := []longpoll.Option{
		longpoll.WithMaxWait(cfg.MaxWait()),
		longpoll.WithLogger(logger),
	}
	cacheOpts := []snapcache.Option[longpoll.Snapshot]{}
	if deps.Metrics != nil {
		coreMetrics = deps.Metrics.CoreMetrics()
		metricsHandler = deps.Metrics.Handler()
		sessionOpts = append(sessionOpts, longpoll.WithMetrics(coreMetrics))
		cacheOpts = append(cacheOpts, snapcache.WithMetrics[longpoll.Snapshot](deps.Metrics, "snapshots"))
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	return &Server{
		cfg:        cfg,
		registry:   deps.Registry,
		relay:      deps.Relay,
		session:    longpoll.NewSession(deps.Bus, sessionOpts...),
		cache:      snapcache.New(cacheOpts...),
		revision:   deps.Revision,
		builder:    deps.Builder,
		authorizer: authorizer,
		limiter:    limiter,
		health:     deps.Health,
		logger:     logger,
		metrics:    coreMetrics,
		metricsH:   metricsHandler,
	}, nil
}

// RegisterHTTPHandlers registers the gateway routes with the HTTP mux.
func (s *Server) RegisterHTTPHandlers(mux *http.ServeMux) {
	uiPrefix := strings.TrimSuffix(s.cfg.UIPrefix, "/")

	mux.HandleFunc(uiPrefix+"/", s.instrument("proxy", s.handleProxy))
	mux.HandleFunc("/pools/default", s.instrument("pool_info", s.handlePoolInfo))
	mux.HandleFunc("/nodeServices", s.instrument("node_services", s.handleNodeServices))
	mux.HandleFunc("/poolsStreaming/default", s.instrument("pool_streaming", s.handlePoolStreaming))
	if s.metricsH != nil {
		mux.Handle("/metrics", s.metricsH)
	}
	if s.health != nil {
		mux.Handle("/health", health.Handler(s.health, "gateway"))
	}

	s.logger.Info("gateway HTTP handlers registered",
		"ui_prefix", uiPrefix,
		"plugins", s.registry.Len())
}

// handleProxy classifies a pluggable-UI request by its REST prefix and
// relays it to the owning service.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(s.cfg.UIPrefix, "/"))

	desc, remainder, ok := s.registry.Match(rest)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}

	if !s.authorizer.HasPermission(r, PermPluggableUI) {
		s.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	if s.relay == nil {
		s.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)
	s.relay.Forward(w, r, desc.Service, remainder)
}

func (s *Server) handlePoolInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	if !s.authorizer.HasPermission(r, PermPoolsRead) {
		s.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	s.session.Serve(w, r, s.snapshotFunc(keyPoolInfo, s.builder.BuildPoolInfo))
}

func (s *Server) handleNodeServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	if !s.authorizer.HasPermission(r, PermPoolsRead) {
		s.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	s.session.Serve(w, r, s.snapshotFunc(keyNodeServices, s.builder.BuildNodeServices))
}

// handlePoolStreaming never closes the connection from the server side: a
// fresh pool document is pushed whenever the cheap comparison says it
// changed.
func (s *Server) handlePoolStreaming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	if !s.authorizer.HasPermission(r, PermPoolsRead) {
		s.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	quick := func(ctx context.Context) (any, error) {
		return s.builder.BuildPoolInfo(ctx)
	}
	s.session.ServeStream(w, r, quick, s.snapshotFunc(keyPoolInfo, s.builder.BuildPoolInfo))
}

// snapshotFunc memoizes one snapshot kind in the single-flight cache. The
// change token is read before the build starts so a mutation racing the
// computation marks the result stale instead of current.
func (s *Server) snapshotFunc(key string, build func(ctx context.Context) (any, error)) longpoll.SnapshotFunc {
	return func(ctx context.Context) (longpoll.Snapshot, error) {
		return s.cache.LookupOrCompute(ctx, key,
			func(ctx context.Context) (longpoll.Snapshot, time.Duration, uint64, error) {
				token := s.revision.Current()
				doc, err := build(ctx)
				if err != nil {
					return longpoll.Snapshot{}, 0, 0, err
				}
				payload, err := json.Marshal(doc)
				if err != nil {
					return longpoll.Snapshot{}, 0, 0, err
				}
				return longpoll.Snapshot{
					Payload: payload,
					ETag:    longpoll.ETag(payload),
				}, snapshotTTL, token, nil
			},
			func(_ longpoll.Snapshot, tokenAtCompute uint64) bool {
				return tokenAtCompute != s.revision.Current()
			})
	}
}

// instrument wraps a handler with request-ID propagation, rate limiting and
// metrics accounting.
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		if s.limiter != nil && !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "too many requests")
			s.count(name, http.StatusTooManyRequests)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)

		s.count(name, sw.status)
		if s.metrics != nil {
			s.metrics.RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *Server) count(handler string, status int) {
	if s.metrics == nil {
		return
	}
	code := fmt.Sprintf("%d", status)
	s.metrics.RequestsTotal.WithLabelValues(handler, code).Inc()
	if status >= 400 {
		s.metrics.RequestsFailed.WithLabelValues(handler, code).Inc()
	}
}

// writeError writes a sanitized JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	_, _ = w.Write(data)
}

// statusWriter records the status code written by a handler
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards flushes so streamed responses keep working through the
// instrumentation wrapper
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
