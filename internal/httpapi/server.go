package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/config"
	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/guard"
	"github.com/fa-sharp/streamgate/internal/metrics"
	"github.com/fa-sharp/streamgate/internal/pool"
	"github.com/fa-sharp/streamgate/internal/token"
)

// requestIDHeader is the header clients can set to propagate a request ID
// across a proxy; the gateway generates its own when absent.
const requestIDHeader = "X-Request-ID"

// Server bundles every collaborator a route handler needs. It is
// constructed once in main and never exposes package-level globals, per
// SPEC_FULL.md's "Global state" design note.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	ctrl     *controller.Controller
	tokens   *token.Service
	exclPool *pool.ExclusivePool
	producer *guard.ProducerGuard
	consumer *guard.ConsumerGuard
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// New builds a Server from its collaborators. gatherer is the registry
// metrics.New registered m against; it is served at /metrics so that the
// gateway's own gauges/counters are actually exposed, rather than the
// process-global prometheus.DefaultGatherer nothing is registered on.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	ctrl *controller.Controller,
	tokens *token.Service,
	exclPool *pool.ExclusivePool,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		ctrl:     ctrl,
		tokens:   tokens,
		exclPool: exclPool,
		producer: guard.NewProducerGuard(cfg.APIKey),
		consumer: guard.NewConsumerGuard(tokens),
		metrics:  m,
		gatherer: gatherer,
	}
}

// Routes builds the HTTP mux binding every handler to its path, using
// Go 1.22's method-prefixed mux patterns the way the orchestrator's
// gateway binary registers its own routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/info", s.withProducerAuth(s.handleInfo))

	mux.HandleFunc("GET /api/stream/", s.withProducerAuth(s.handleScan))
	mux.HandleFunc("GET /api/stream/info", s.withProducerAuth(s.handleStreamInfo))
	mux.HandleFunc("GET /api/stream/events", s.withProducerAuth(s.handleListEvents))
	mux.HandleFunc("POST /api/stream/", s.withProducerAuth(s.handleCreateStream))
	mux.HandleFunc("POST /api/stream/token", s.withProducerAuth(s.handleCreateToken))
	mux.HandleFunc("POST /api/stream/add", s.withProducerAuth(s.handleAddEvents))
	mux.HandleFunc("POST /api/stream/add/json-stream", s.withProducerAuth(s.handleAddJSONStream))
	mux.HandleFunc("GET /api/stream/add/ws-stream", s.withProducerAuth(s.handleAddWSStream))
	mux.HandleFunc("POST /api/stream/cancel", s.withProducerAuth(s.handleCancelStream))
	mux.HandleFunc("POST /api/stream/end", s.withProducerAuth(s.handleEndStream))

	mux.HandleFunc("GET /api/client/sse", s.handleClientSSE)
	mux.HandleFunc("GET /api/client/ws", s.handleClientWS)

	return s.withAccessLog(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

type infoResponse struct {
	URL     string      `json:"url"`
	Version string      `json:"version"`
	Redis   redisHealth `json:"redis"`
}

type redisHealth struct {
	Static             bool `json:"static"`
	Streaming          int  `json:"streaming"`
	StreamingAvailable bool `json:"streaming_available"`
	StreamingMax       int  `json:"streaming_max"`
}

// Version is the gateway's reported build version.
const Version = "1.0.0"

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	inUse := s.exclPool.InUse()
	stats := s.ctrl.PoolStats()
	s.metrics.StaticPoolInUse.Set(float64(stats.TotalConns - stats.IdleConns))
	writeJSON(w, http.StatusOK, infoResponse{
		URL:     s.cfg.ServerAddress,
		Version: Version,
		Redis: redisHealth{
			Static:             true,
			Streaming:          inUse,
			StreamingAvailable: inUse < s.cfg.MaxClients,
			StreamingMax:       s.cfg.MaxClients,
		},
	})
}

func (s *Server) withProducerAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.producer.Check(r); err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r)
	}
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, reqID)

		next.ServeHTTP(w, r)
		s.logger.Debug("handled request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
