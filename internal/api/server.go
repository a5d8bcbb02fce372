package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/audit"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/healthcheck"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/sitewatch-core/internal/site"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultCommandTimeout bounds a single lane command or on-demand probe.
const defaultCommandTimeout = 10 * time.Second

// AdapterResolver builds adapters and lists registered protocols.
// *adapter.Factory satisfies it.
type AdapterResolver interface {
	Create(ctrl *controller.Controller) (adapter.Adapter, error)
	Protocols() []string
}

// SiteRecalculator refreshes a site's derived status. *site.Service satisfies it.
type SiteRecalculator interface {
	RecalculateStatus(ctx context.Context, siteID string) error
}

// CycleRunner runs a health cycle on demand. *healthcheck.Scheduler satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context) (healthcheck.CycleResult, error)
}

// HealthCheckFunc reports whether a dependency is healthy.
type HealthCheckFunc func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Controllers controller.Repository
	Sites       site.Repository
	SiteService SiteRecalculator
	Adapters    AdapterResolver
	Scheduler   CycleRunner      // optional; manual cycles return 503 without it
	Audit       audit.Repository // optional; admin actions are not recorded without it

	// HealthChecks are reported by GET /health, keyed by component name.
	HealthChecks map[string]HealthCheckFunc

	// Hub is used instead of creating one, so event sinks can share it.
	Hub *Hub

	CommandTimeout time.Duration
	Version        string
}

// Server is the admin HTTP API server.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	logger         *logging.Logger
	controllers    controller.Repository
	sites          site.Repository
	siteService    SiteRecalculator
	adapters       AdapterResolver
	scheduler      CycleRunner
	audit          audit.Repository
	healthChecks   map[string]HealthCheckFunc
	commandTimeout time.Duration
	version        string

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controllers == nil {
		return nil, fmt.Errorf("controller repository is required")
	}
	if deps.Sites == nil || deps.SiteService == nil {
		return nil, fmt.Errorf("site repository and service are required")
	}
	if deps.Adapters == nil {
		return nil, fmt.Errorf("adapter resolver is required")
	}

	timeout := deps.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		logger:         deps.Logger,
		controllers:    deps.Controllers,
		sites:          deps.Sites,
		siteService:    deps.SiteService,
		adapters:       deps.Adapters,
		scheduler:      deps.Scheduler,
		audit:          deps.Audit,
		healthChecks:   deps.HealthChecks,
		commandTimeout: timeout,
		version:        deps.Version,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// It returns an error if the listen address cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
