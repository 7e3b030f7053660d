package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/R3E-Network/signal_bridge/internal/app/system"
	"github.com/R3E-Network/signal_bridge/internal/config"
	"github.com/R3E-Network/signal_bridge/internal/middleware"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

const limiterCleanupInterval = time.Minute

// httpServer runs the read API as a lifecycle-managed service.
type httpServer struct {
	cfg     config.HTTPConfig
	srv     *http.Server
	limiter *middleware.RateLimiter
	log     *logger.Logger

	addr   net.Addr
	cancel context.CancelFunc
	done   chan struct{}
}

func newHTTPServer(cfg config.HTTPConfig, handler http.Handler, limiter *middleware.RateLimiter, log *logger.Logger) *httpServer {
	return &httpServer{
		cfg: cfg,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		limiter: limiter,
		log:     log,
	}
}

func (s *httpServer) Name() string { return "http" }

// Start binds the listener synchronously so address errors surface here,
// then serves in the background.
func (s *httpServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.addr = ln.Addr()

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if s.limiter != nil {
		s.limiter.StartCleanup(bg, limiterCleanupInterval)
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.log.WithField("addr", s.addr.String()).Info("HTTP server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (s *httpServer) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if s.done != nil {
		<-s.done
	}
	return nil
}

// Addr returns the bound address once started.
func (s *httpServer) Addr() net.Addr { return s.addr }

var _ system.Service = (*httpServer)(nil)
