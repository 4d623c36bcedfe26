package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/stackforge/engine/internal/api"
	"github.com/stackforge/engine/internal/api/handlers"
	"github.com/stackforge/engine/internal/repository"
	"github.com/stackforge/engine/internal/services"
	"github.com/stackforge/engine/pkg/config"
	"github.com/stackforge/engine/pkg/database"
	"github.com/stackforge/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting StackForge Engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	specRepo := repository.NewSpecRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	jwtSecret := []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		log.Warn("JWT_SECRET not set, using default (INSECURE for production)")
		jwtSecret = []byte("change-me-in-production-please")
	}

	// Task queue client for deployment jobs
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer asynqClient.Close()

	// Initialize services and handlers
	authSvc := services.NewAuthService(userRepo, jwtSecret)
	projectSvc := services.NewProjectService(db, projectRepo, specRepo, cfg.AzureSubscriptionID)
	deploySvc := services.NewDeploymentService(db, projectRepo, specRepo, deployRepo, resourceRepo, asynqClient)

	authHandler := handlers.NewAuthHandler(authSvc)
	projectsHandler := handlers.NewProjectsHandler(projectSvc)
	deploymentsHandler := handlers.NewDeploymentsHandler(deploySvc)

	// Create router with dependencies
	router := api.NewRouter(api.Dependencies{
		HMACSecret:         jwtSecret,
		AuthHandler:        authHandler,
		ProjectsHandler:    projectsHandler,
		DeploymentsHandler: deploymentsHandler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
