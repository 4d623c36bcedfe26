package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stackforge/engine/pkg/config"
	"github.com/stackforge/engine/pkg/database"
	"github.com/stackforge/engine/pkg/logger"

	"github.com/stackforge/engine/internal/provisioner"
	"github.com/stackforge/engine/internal/provisioner/azure"
	"github.com/stackforge/engine/internal/queue/tasks"
	"github.com/stackforge/engine/internal/repository"
	"github.com/stackforge/engine/internal/services"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	// Initialize DB and repositories for task handlers
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.L().Fatal("failed to open database", zap.Error(err))
	}

	projectRepo := repository.NewProjectRepository(db)
	specRepo := repository.NewSpecRepository(db)
	deploymentRepo := repository.NewDeploymentRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	// Azure credential chain: environment, workload identity, managed
	// identity, then az cli. Works unchanged across local dev and AKS.
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		logger.L().Fatal("failed to build azure credential", zap.Error(err))
	}

	armAPI, err := azure.NewARMAPI(cfg.AzureSubscriptionID, cred, nil)
	if err != nil {
		logger.L().Fatal("failed to build arm clients", zap.Error(err))
	}

	stateStore := provisioner.NewDatabaseStateStore(deploymentRepo)
	prov := azure.NewProvisioner(cfg.AzureSubscriptionID, armAPI, stateStore)

	// deployment service (worker doesn't need asynq client)
	deploySvc := services.NewDeploymentService(db, projectRepo, specRepo, deploymentRepo, resourceRepo, nil)

	handler := tasks.NewProvisionTaskHandler(prov, deploySvc, projectRepo, specRepo, deploymentRepo, cfg.ResourceGroupPrefix)
	mux.HandleFunc(services.TaskProvision, handler.HandleProvision)
	mux.HandleFunc(services.TaskDestroy, handler.HandleDestroy)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	// Allow in-flight tasks to finish gracefully
	srv.Shutdown()
}
