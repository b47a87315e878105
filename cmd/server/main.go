package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-exp-expenses/internal/handler"
	"github.com/pesio-ai/be-exp-expenses/internal/idempotency"
	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/internal/service"
	"github.com/pesio-ai/be-exp-expenses/migrations"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/config"
	"github.com/pesio-ai/be-exp-expenses/pkg/database"
	"github.com/pesio-ai/be-exp-expenses/pkg/logger"
	"github.com/pesio-ai/be-exp-expenses/pkg/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		log.Info().Strs("applied", applied).Msg("Migrations complete")
		return
	}

	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("threshold", cfg.Routing.Threshold.String()).
		Msg("Starting Expenses Service")

	if err := run(ctx, cfg, db, log); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, db *database.DB, log *logger.Logger) error {
	// Initialize repositories
	expenseRepo := repository.NewExpenseRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)

	// Initialize services
	directory := service.NewApproverDirectory(userRepo, map[service.RoutingRole]string{
		service.RoutingRolePrimary:   cfg.Routing.PrimaryTitle,
		service.RoutingRoleSecondary: cfg.Routing.SecondaryTitle,
	})
	policy := service.NewTieredPolicy(cfg.Routing.Threshold)
	routingService := service.NewApprovalRoutingService(
		db, expenseRepo, approvalRepo, projectRepo, directory, policy, log.Component("routing"),
	)
	expenseService := service.NewExpenseService(db, expenseRepo, approvalRepo, log.Component("expenses"))

	// Optional idempotency store
	var idem handler.IdempotencyStore
	if cfg.Redis.Enabled() {
		store, err := idempotency.Dial(ctx, idempotency.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.IdempotencyTTL,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer store.Close()
		idem = store
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Idempotency store enabled")
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	loadUser := service.NewUserLoader(userRepo)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(routingService, expenseService, idem, db, log.Component("http"))

	h := middleware.Chain(httpHandler.Routes(auth.Middleware(verifier, loadUser)),
		middleware.RequestID,
		middleware.Logger(&log.Logger),
		middleware.Recovery(&log.Logger),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC server
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		auth.UnaryServerInterceptor(verifier, loadUser,
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
			"/grpc.health.v1.Health/List",
		),
	))
	handler.RegisterApprovalServiceServer(grpcServer,
		handler.NewGRPCHandler(routingService, expenseService, log.Logger))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(handler.ApprovalServiceName, healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(grpcListener); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
