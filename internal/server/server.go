package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/PPraveen007/Decoy/internal/config"
	"github.com/PPraveen007/Decoy/internal/metrics"
)

// NewDecoyRouter mounts decoy on every path and method. The decoy listener does
// not echo request IDs, so its responses carry no header a real server lacks.
// Requests shed by the in-flight limit never reach decoy and are not captured;
// they are logged and counted in m, which may be nil.
func NewDecoyRouter(decoy http.Handler, cfg config.ServerConfig, logger *slog.Logger, m *metrics.Metrics, tracing bool) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware(""))
	r.Use(LoggingMiddleware(logger, slog.LevelDebug))
	r.Use(middleware.Recoverer)
	if cfg.MaxInFlight > 0 {
		outer, inner := ShedTracking(func(req *http.Request) {
			logger.Warn("request shed by in-flight limit",
				slog.String("source", req.RemoteAddr),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
			)
			if m != nil {
				m.ShedRequests.Inc()
			}
		})
		r.Use(outer)
		r.Use(middleware.ThrottleBacklog(cfg.MaxInFlight, cfg.Backlog, cfg.BacklogTimeout))
		r.Use(inner)
	}
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	if tracing {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "decoy")
		})
	}

	r.Handle("/", decoy)
	r.Handle("/*", decoy)
	// Unroutable paths and methods chi does not know (PROPFIND, ...) are
	// interactions too.
	r.NotFound(decoy.ServeHTTP)
	r.MethodNotAllowed(decoy.ServeHTTP)
	return r
}

// Server runs the decoy listener and, when configured, the operations listener.
type Server struct {
	decoy  *http.Server
	ops    *http.Server
	logger *slog.Logger

	decoyLn net.Listener
	opsLn   net.Listener

	shutdownTimeout time.Duration
}

// New builds the servers. ops may be nil, or cfg.OpsListenAddr empty, to run
// without the operations listener.
func New(cfg config.ServerConfig, decoy, ops http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		decoy:           newHTTPServer(cfg.ListenAddr, decoy, cfg, logger),
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if ops != nil && cfg.OpsListenAddr != "" {
		s.ops = newHTTPServer(cfg.OpsListenAddr, ops, cfg, logger)
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 15 * time.Second
	}
	return s
}

func newHTTPServer(addr string, h http.Handler, cfg config.ServerConfig, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// Listen binds the listeners so bind errors surface before serving starts.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.decoy.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.decoy.Addr, err)
	}
	s.decoyLn = ln

	if s.ops != nil {
		ln, err := net.Listen("tcp", s.ops.Addr)
		if err != nil {
			s.decoyLn.Close()
			return fmt.Errorf("listen on %s: %w", s.ops.Addr, err)
		}
		s.opsLn = ln
	}
	return nil
}

// DecoyAddr is the bound decoy address, nil before Listen.
func (s *Server) DecoyAddr() net.Addr {
	if s.decoyLn == nil {
		return nil
	}
	return s.decoyLn.Addr()
}

// OpsAddr is the bound operations address, nil when disabled or before Listen.
func (s *Server) OpsAddr() net.Addr {
	if s.opsLn == nil {
		return nil
	}
	return s.opsLn.Addr()
}

// Serve serves until ctx is done or a listener fails, then shuts both servers
// down gracefully, letting in-flight captures finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.decoyLn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("decoy listening", slog.String("addr", s.decoyLn.Addr().String()))
		return serve(s.decoy, s.decoyLn)
	})
	if s.ops != nil {
		g.Go(func() error {
			s.logger.Info("ops listening", slog.String("addr", s.opsLn.Addr().String()))
			return serve(s.ops, s.opsLn)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	}
	return nil
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down servers")
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.decoy.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("decoy shutdown: %w", err))
	}
	if s.ops != nil {
		if err := s.ops.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
