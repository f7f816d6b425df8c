package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claimboard/claimboard/internal/board"
	boardrepo "github.com/claimboard/claimboard/internal/board/repositoryimpl"
	"github.com/claimboard/claimboard/internal/claim"
	"github.com/claimboard/claimboard/internal/config"
	"github.com/claimboard/claimboard/internal/eventbus"
	"github.com/claimboard/claimboard/internal/hook"
	"github.com/claimboard/claimboard/internal/server"
	"github.com/claimboard/claimboard/internal/task"
	taskrepo "github.com/claimboard/claimboard/internal/task/repositoryimpl"
	"github.com/claimboard/claimboard/internal/telemetry"
	"github.com/claimboard/claimboard/pkg/clog"
	"github.com/claimboard/claimboard/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup repositories
	var (
		taskRepo  task.Repository
		pgRepo    *taskrepo.PostgresRepository
		boardRepo *boardrepo.YAMLRepository
	)
	switch env.StoreEnv.Type {
	case "postgres":
		pgRepo, err = taskrepo.NewPostgresRepository(ctx, env.StoreEnv.PostgresURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgRepo.Close()
		taskRepo = pgRepo
		// Boards stay on local YAML even with a Postgres task store; they
		// are small, read-mostly documents.
		store, err := storage.NewLocalStorage(env.StoreEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
		boardRepo = boardrepo.NewYAMLRepository(store)
	case "s3":
		store, err := storage.NewS3Storage(ctx, env.StoreEnv.S3Bucket, env.StoreEnv.S3Prefix, env.StoreEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
		taskRepo = taskrepo.NewYAMLRepository(store)
		boardRepo = boardrepo.NewYAMLRepository(store)
	default:
		store, err := storage.NewLocalStorage(env.StoreEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
		taskRepo = taskrepo.NewYAMLRepository(store)
		boardRepo = boardrepo.NewYAMLRepository(store)
	}

	if _, err := boardRepo.EnsureDefault(ctx); err != nil {
		slog.Error("failed to seed default board", "error", err)
		os.Exit(1)
	}
	var boards board.Repository = boardRepo

	// Setup event bus and telemetry
	bus := eventbus.New()
	sink := telemetry.NewBusSink(bus)

	// Setup hook engine
	loader := hook.NewLoader(env.HookEnv.ConfigPath)
	executor := hook.NewExecutor(env.HookEnv.WorkDir)
	hooks := hook.NewOrchestrator(loader, executor, sink, env.HookEnv.DefaultTimeout)

	// Setup coordination engine
	coordinator := claim.NewCoordinator(taskRepo, boards, hooks, sink, env.ClaimEnv.LeaseDuration)
	validator := claim.NewValidator(taskRepo, boards)
	sweeper := claim.NewSweeper(taskRepo, sink, env.ClaimEnv.SweepInterval)

	srv := server.NewServer(env, taskRepo, boards, coordinator, validator, bus)

	go sweeper.Start(ctx)
	go func() {
		if err := loader.Watch(ctx); err != nil {
			slog.Error("hook config watcher error", "error", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Let dispatched after_* hooks finish so their telemetry is recorded.
	hooks.Wait()
}
