package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ember/internal/app"
	"ember/internal/async"
	"ember/internal/logging"
)

// leaseSweepInterval bounds how often the Gateway proactively reclaims
// expired leases in the background, independent of the reclaim a worker's
// own ClaimNextTask call already performs inline. Catches tasks whose
// worker died with nobody left polling to trigger the inline path.
const leaseSweepInterval = 30 * time.Second

// Server wraps the gin engine in an http.Server with graceful shutdown and
// a background expired-lease sweep, adapted from the reference CLI's
// server-lifecycle shape (listen, serve, drain on signal).
type Server struct {
	httpServer *http.Server
	repo       *app.Repository
	logger     *logging.Logger
	stopSweep  context.CancelFunc
}

// NewServer constructs a Server listening on port, backed by repo.
func NewServer(repo *app.Repository, cfg Config, port int) *Server {
	engine := NewRouter(repo, cfg)
	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: engine,
		},
		repo:   repo,
		logger: logging.NewComponentLogger("Server"),
	}
}

// Start begins serving and the background lease sweep. It blocks until the
// listener fails, returning that error, or until Shutdown is called, in
// which case the resulting http.ErrServerClosed is suppressed and Start
// returns nil.
func (s *Server) Start() error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	async.Go(s.logger, "lease-sweep", func() {
		s.runLeaseSweep(sweepCtx)
	})

	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the background sweep, then drains in-flight requests
// (including open /tasks/run streams) up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopSweep != nil {
		s.stopSweep()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) runLeaseSweep(ctx context.Context) {
	ticker := time.NewTicker(leaseSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.RecoverExpiredLeases(ctx)
			if err != nil {
				s.logger.Warn("lease sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("lease sweep reclaimed tasks", "count", n)
			}
		}
	}
}
