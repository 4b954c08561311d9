package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-qms-documents/internal/client"
	"github.com/pesio-ai/be-qms-documents/internal/config"
	"github.com/pesio-ai/be-qms-documents/internal/handler"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/service"
	"github.com/pesio-ai/be-qms-documents/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Str("authz", cfg.Authz.Mode).
		Msg("Starting document workflow service")

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.Output); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Error().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	store, release, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()

	gate, closeGate, err := newGate(cfg)
	if err != nil {
		return err
	}
	defer closeGate()

	var events service.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain() //nolint:errcheck
		events = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("Publishing workflow events to NATS")
	}

	engine := service.NewWorkflowEngine(store, gate, events, cfg.Authz.AdminRole, log)
	workflows := service.NewWorkflowDefinitionService(store, log)
	documents := service.NewDocumentService(store, log)
	tasks := service.NewTaskService(store)

	var pinger handler.Pinger
	if p, ok := store.(handler.Pinger); ok {
		pinger = p
	}

	e := newEcho(cfg, log)
	handler.NewHTTPHandler(engine, workflows, documents, tasks, pinger, log).Register(e)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.UnaryLogger(log.With("grpc"))))
	handler.NewGRPCHandler(engine, workflows, documents, tasks, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down servers")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

func newEcho(cfg *config.Config, log *logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	reqLog := log.With("http")
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSOrigins}))
	e.Use(middleware.ContextTimeout(cfg.Server.RequestTimeout))
	if cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:  rate.Limit(cfg.Server.RateLimit),
				Burst: cfg.Server.RateBurst,
			},
		)))
	}
	e.Use(otelecho.Middleware(cfg.Service.Name))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := reqLog.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = reqLog.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))
	return e
}

// newGate builds the authorization gate for the configured mode.
func newGate(cfg *config.Config) (service.AuthorizationGate, func(), error) {
	if cfg.Authz.Mode == "grpc" {
		c, err := client.NewIdentityGRPCClient(cfg.Authz.IdentityAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("identity client: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	}
	return client.NewStaticRoleGate(cfg.Authz.Assignments), func() {}, nil
}
