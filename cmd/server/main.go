package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/api"
	"github.com/yourusername/social-dl-go/api/handlers"
	"github.com/yourusername/social-dl-go/internal/app"
	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/internal/infrastructure"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	foreground = flag.Bool("foreground", false, "Run in the foreground instead of detaching")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if !*serverMode && !*foreground {
		startAsDaemon()
		return
	}

	runServer()
}

// startAsDaemon forks the current process and runs the server in background
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

// closer is a resource released after the server stops
type closer interface {
	Close() error
}

func runServer() {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	general, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer general.Sync()

	// Categorized logs (session, sweeper, access, error)
	var multiLog *logger.MultiLogger
	if config.Logging.LogsDir != "" {
		multiLog, err = logger.NewMultiLogger(logger.MultiLoggerConfig{
			Level:   config.Logging.Level,
			LogsDir: config.Logging.LogsDir,
		})
		if err != nil {
			general.Fatal("Failed to initialize category logs", zap.Error(err))
		}
		defer multiLog.Close()
	}

	logAdapter := logger.NewLoggerAdapter(general, multiLog)
	log := logAdapter.General()

	log.Info("Starting social-dl server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("download_dir", config.Download.Dir),
		zap.Duration("file_ttl", config.Download.FileTTL),
		zap.Int("workers", config.Download.Workers))

	if err := os.MkdirAll(config.Download.Dir, 0755); err != nil {
		log.Fatal("Failed to create download directory", zap.Error(err))
	}

	var closers []closer
	var sinks []domain.EventSink

	var history domain.HistoryRepository
	if config.History.Enabled {
		repo, err := openHistory(config.History)
		if err != nil {
			log.Fatal("Failed to initialize history", zap.Error(err))
		}
		history = repo
		closers = append(closers, repo)
		sinks = append(sinks, app.NewHistoryRecorder(repo))
		log.Info("History enabled", zap.String("driver", config.History.Driver))
	}

	if config.Events.Enabled {
		publisher, err := infrastructure.NewAMQPEventPublisher(config.Events.AMQPURL, config.Events.Exchange, log)
		if err != nil {
			log.Fatal("Failed to connect event broker", zap.Error(err))
		}
		closers = append(closers, publisher)
		sinks = append(sinks, publisher)
		log.Info("Publishing session events", zap.String("exchange", config.Events.Exchange))
	}

	if config.Notification.Enabled {
		sinks = append(sinks, infrastructure.NewNotificationService(&config.Notification, log))
	}

	clock := app.SystemClock
	store := app.NewMemorySessionStore(clock)
	events := app.NewEventBus(clock, logAdapter, sinks...)
	if err := events.Start(); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := app.NewWorkerPool(config.Download.Workers, config.Download.QueueSize, logAdapter)
	if err := pool.Start(ctx); err != nil {
		log.Fatal("Failed to start worker pool", zap.Error(err))
	}

	fetcher := infrastructure.NewYTDLPFetcher(config.Download.YTDLPBinary, log.Named("ytdlp"))
	executor := app.NewFetchExecutor(fetcher, config.Download.Dir, logAdapter)
	selector := app.NewFormatSelector(&config.Download)
	downloads := app.NewDownloadManager(store, selector, executor, pool, events, clock, &config.Download, logAdapter)

	expander := infrastructure.NewYouTubePlaylistExpander(0, log.Named("playlist"))
	batches := app.NewBatchManager(store, downloads, expander, config, logAdapter)

	sweeper := app.NewSweeper(store, clock, config.Download.SweepInterval, events, logAdapter)
	sweeper.Start(ctx)

	router := api.SetupRouter(config, api.Services{
		Downloads: downloads,
		Batches:   batches,
		Pool:      pool,
		Sweeper:   sweeper,
		History:   history,
	}, logAdapter)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := sweeper.Stop(); err != nil {
		log.Warn("Error stopping sweeper", zap.Error(err))
	}
	batches.Stop()
	if err := pool.Stop(); err != nil {
		log.Warn("Error stopping worker pool", zap.Error(err))
	}
	batches.Wait()
	if err := events.Stop(); err != nil {
		log.Warn("Error stopping event bus", zap.Error(err))
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn("Error closing resource", zap.Error(err))
		}
	}

	log.Info("Server exited")
}

func openHistory(config domain.HistoryConfig) (domain.HistoryRepository, error) {
	if config.Driver == "postgres" {
		return infrastructure.NewPostgresHistoryRepository(config.DSN)
	}
	return infrastructure.NewSQLiteHistoryRepository(config.DatabasePath)
}
