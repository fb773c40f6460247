package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wyrmiyu/logs2eca/internal/action"
	"github.com/wyrmiyu/logs2eca/internal/config"
	"github.com/wyrmiyu/logs2eca/internal/cursor"
	"github.com/wyrmiyu/logs2eca/internal/dirwatch"
	"github.com/wyrmiyu/logs2eca/internal/health"
	"github.com/wyrmiyu/logs2eca/internal/history"
	"github.com/wyrmiyu/logs2eca/internal/pattern"
	"github.com/wyrmiyu/logs2eca/internal/watch"
)

func run(cmd *cobra.Command) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logs2eca: %v\n", err)
		os.Exit(1)
	}

	// Initialise structured slog logger from config log level.
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("log_file", cfg.LogFile),
		slog.String("pattern", cfg.Pattern),
		slog.String("command", cfg.Command),
		slog.Int("wait_seconds", cfg.WaitSeconds),
		slog.Bool("arbitrary_substring_match", cfg.ArbitrarySubstringMatch),
		slog.String("log_level", cfg.LogLevel),
	)

	pat, err := pattern.Compile(cfg.Pattern, !cfg.ArbitrarySubstringMatch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logs2eca: %v\n", err)
		os.Exit(1)
	}

	dw, err := dirwatch.New(cfg.LogFile)
	if err != nil {
		logger.Error("failed to watch log file directory", slog.Any("error", err))
		os.Exit(1)
	}
	defer dw.Close()

	runner := action.NewRunner(cfg.Command, cfg.Wait(), logger)

	metrics := watch.NewMetrics()
	opts := []watch.Option{watch.WithMetrics(metrics)}
	var hist health.History
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Error("failed to open trigger history", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, watch.WithRecorder(store))
		hist = store
		logger.Info("trigger history enabled", slog.String("path", cfg.HistoryDB))
	}

	loop := watch.New(cursor.New(cfg.LogFile), pat, runner, dw, logger, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleSignals(cancel, loop, logger)

	// Start the local status HTTP server when configured.
	var statusServer *http.Server
	if cfg.HealthAddr != "" {
		statusServer = &http.Server{
			Addr:         cfg.HealthAddr,
			Handler:      health.NewRouter(health.NewServer(loop, hist), metrics.Handler()),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", slog.String("addr", cfg.HealthAddr))
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server error", slog.Any("error", err))
			}
		}()
	}

	runErr := loop.Run(ctx)

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown error", slog.Any("error", err))
		}
	}

	if runErr != nil {
		logger.Error("watch loop failed", slog.Any("error", runErr))
		os.Exit(1)
	}
	logger.Info("logs2eca exited cleanly")
}

// loadConfig layers the YAML file, environment variables, and explicitly set
// command line flags over the defaults, then validates the result. The config
// file path itself comes from --config or LOGS2ECA_CONFIG; when neither is
// set the daemon runs on defaults, environment, and flags alone.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := paramConfig
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("logfile") {
		cfg.LogFile = paramLogFile
	}
	if flags.Changed("pattern") {
		cfg.Pattern = paramPattern
	}
	if flags.Changed("command") {
		cfg.Command = paramCommand
	}
	if flags.Changed("wait") {
		cfg.WaitSeconds = paramWait
	}
	if flags.Changed("arbitrary-substring-match") {
		cfg.ArbitrarySubstringMatch = paramArbitrary
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = paramLogLevel
	}
	if flags.Changed("health-addr") {
		cfg.HealthAddr = paramHealthAddr
	}
	if flags.Changed("history-db") {
		cfg.HistoryDB = paramHistoryDB
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// handleSignals translates process signals into loop control: SIGHUP requests
// a reopen of the log file and SIGINT or SIGTERM starts a clean shutdown.
func handleSignals(cancel context.CancelFunc, loop *watch.Loop, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, scheduling log file reopen")
			loop.Rotate()
		default:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		}
	}
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
