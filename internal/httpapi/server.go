package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

// LoopStatus reports the ingest loop's state.
type LoopStatus interface {
	State() service.State
}

// Pinger checks the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	Loop    LoopStatus
	DB      Pinger
	Metrics http.Handler
}

// Server is the operational endpoint: health for orchestrators and
// Prometheus metrics.  It carries no access-control API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	loop       LoopStatus
	db         Pinger
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger: d.Logger,
		loop:   d.Loop,
		db:     d.DB,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(d.Logger))

	r.Get("/healthz", s.handleHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string `json:"status"`
	LoopState string `json:"loop_state"`
	Database  string `json:"database"`
}

// handleHealth returns 200 only while the bus session is up and the
// database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	healthy := true

	state := service.StateDisconnected
	if s.loop != nil {
		state = s.loop.State()
	}
	resp.LoopState = state.String()
	if state == service.StateDisconnected {
		healthy = false
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("health check: database ping failed", "err", err)
			resp.Database = "unreachable"
			healthy = false
		}
	}

	if !healthy {
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
