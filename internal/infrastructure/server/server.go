package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/GriffinCanCode/podfs/internal/api/http"
	"github.com/GriffinCanCode/podfs/internal/api/middleware"
	"github.com/GriffinCanCode/podfs/internal/api/ws"
	"github.com/GriffinCanCode/podfs/internal/app"
	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/config"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/tracing"
)

const (
	// maintenanceInterval paces abandoned-call reaping and transfer cleanup.
	maintenanceInterval = time.Minute
	// abandonedAfter is the age at which a pending call is failed.
	abandonedAfter  = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	app     *app.App
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance. ctx bounds the startup work:
// probing the cluster tools and launching the kubectl proxy.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing podfs daemon",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("exec_mode", cfg.Cluster.ExecMode),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("podfsd", logger.Logger, time.Second)

	a, err := app.New(ctx, cfg, app.Options{Logger: logger.Logger, Metrics: metrics, Tracer: tracer})
	if err != nil {
		tracer.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.AccessLog(logger.Component("access")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	httpapi.NewHandlers(httpapi.Deps{
		FS:        a.FS,
		Channels:  a.Channels,
		Transfers: a.Transfers,
		Shells:    a.Shells,
		Pods:      a.PodAPI(),
		Tools:     a.Tools,
		Namespace: a.Namespace,
		Metrics:   metrics,
		Logger:    logger.Logger,
	}).Register(router)

	if a.Follower != nil {
		ws.NewHandler(a.Follower, a.Transfers, a.Shells, ws.Options{
			TailLines: cfg.Stream.TailLines,
			Namespace: a.Namespace,
			Metrics:   metrics,
			Logger:    logger.Logger,
		}).Register(router)
	} else {
		logger.Warn("Streaming routes disabled: no cluster API client")
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully", zap.String("namespace", a.Namespace))

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		app:     a,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, the listener fails or the kubectl
// proxy dies, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.maintain(ctx)
		return nil
	})
	if proxy := s.app.Proxy(); proxy != nil {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-exited(proxy):
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("kubectl proxy exited; shutting down")
				return cluster.ErrProxyExited
			}
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})
	return g.Wait()
}

func exited(p *cluster.Proxy) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(done)
	}()
	return done
}

// maintain periodically fails abandoned calls and drops finished transfers.
func (s *Server) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.app.Channels.Reap(abandonedAfter)
			if n := s.app.Transfers.Forget(); n > 0 {
				s.logger.Debug("forgot finished transfers", zap.Int("count", n))
			}
		}
	}
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.app.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close components: %w", err))
	}
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
