package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/dubarr/internal/config"
	"github.com/jmylchreest/dubarr/internal/database"
	"github.com/jmylchreest/dubarr/internal/database/migrations"
	"github.com/jmylchreest/dubarr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/dubarr/internal/http"
	"github.com/jmylchreest/dubarr/internal/http/handlers"
	"github.com/jmylchreest/dubarr/internal/observability"
	"github.com/jmylchreest/dubarr/internal/repository"
	"github.com/jmylchreest/dubarr/internal/runner"
	"github.com/jmylchreest/dubarr/internal/scheduler"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/service/progress"
	"github.com/jmylchreest/dubarr/internal/startup"
	"github.com/jmylchreest/dubarr/internal/storage"
	"github.com/jmylchreest/dubarr/internal/version"
	"github.com/jmylchreest/dubarr/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dubarr server",
	Long: `Start the dubarr HTTP server and API.

The server provides:
- REST API for task management and stage triggers
- WebSocket push channel for progress events
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "dubarr.db", "Database file path")
	serveCmd.Flags().String("data-dir", "data", "Data directory for task files")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	config.SetDefaults(viper.GetViper())

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Load reads through its own viper instance, so flags given on the
	// command line are applied on top of the loaded configuration here.
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = viper.GetString("server.host")
	}
	if flags.Changed("port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN = viper.GetString("database.dsn")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir = viper.GetString("storage.base_dir")
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	// Initialize database
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	// Run migrations
	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(cmd.Context()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize storage sandbox and path manager
	sandbox, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	paths := storage.NewTaskPaths(sandbox, logger)

	// Initialize repositories and the task store
	taskRepo := repository.NewTaskRepository(db.DB)
	logRepo := repository.NewProcessingLogRepository(db.DB)
	taskService := service.NewTaskService(taskRepo, logRepo, paths).WithLogger(logger)

	// Relabel stages left processing by a previous process before anything
	// can observe them as running.
	if recovered, err := startup.RecoverInterruptedStages(cmd.Context(), taskService, logger); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	} else if recovered > 0 {
		logger.Info("relabeled interrupted stages on startup", slog.Int("count", recovered))
	}

	// Wire progress fan-out and the execution engine
	registry := progress.NewRegistry(cfg.Push.QueueSize, logger)
	runLock := runner.NewRunLock()
	bus := progress.NewBus(taskService, registry, logger).WithExecutionTracker(runLock)
	adapter := worker.NewAdapter(cfg.Workers, logger)
	stageRunner := runner.NewStageRunner(taskService, bus, adapter, runLock).WithLogger(logger)
	batch := scheduler.NewBatch(taskService, stageRunner, bus).WithLogger(logger)

	prober := ffmpeg.NewProber(cfg.FFmpeg.ProbePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)

	// Initialize the HTTP server
	serverCfg := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverCfg, logger, version.Short())

	// Register REST operations
	handlers.NewTaskHandler(taskService, registry, prober).Register(server.API())
	handlers.NewStageHandler(taskService, stageRunner, logger).Register(server.API())
	handlers.NewBatchHandler(batch, runLock).Register(server.API())
	handlers.NewHealthHandler(db, version.Short()).Register(server.API())

	// Mount the push channel outside Huma; it hijacks the connection.
	handlers.NewPushHandler(taskService, registry, logger).Register(server.Router())

	// Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("dubarr starting",
		slog.String("version", version.Short()),
		slog.String("address", cfg.Server.Address()),
		slog.String("data_dir", sandbox.BaseDir()),
	)
	return server.ListenAndServe(ctx)
}
