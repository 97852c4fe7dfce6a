// Package main runs the yad2 listing notifier: a scheduler that scans every
// subscriber's saved search and an HTTP admin server, in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	_ "time/tzdata" // TIMEZONE must resolve on minimal images

	"yad2-notifier/browser"
	"yad2-notifier/config"
	"yad2-notifier/ledger"
	"yad2-notifier/notify"
	"yad2-notifier/poll"
	"yad2-notifier/server"
	subscriptions "yad2-notifier/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// closingLedger is a ledger that owns a connection.
type closingLedger interface {
	poll.Ledger
	Close() error
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if n, err := store.MigrateLegacy(ctx, cfg.LegacyUsersFile); err != nil {
		logger.Warn("Legacy subscriber migration failed", "path", cfg.LegacyUsersFile, "error", err)
	} else if n > 0 {
		logger.Info("Imported legacy subscribers", "count", n)
	}

	led, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := led.Close(); err != nil {
			logger.Warn("Failed to close ledger", "error", err)
		}
	}()

	var provider notify.Provider
	if cfg.TelegramToken == "" {
		logger.Info("Mock message mode enabled (no TELEGRAM_TOKEN)")
		provider = notify.NewMockProvider(logger)
	} else {
		provider = notify.NewTelegramProvider(cfg.TelegramToken, logger,
			notify.WithAPIURL(cfg.TelegramAPIURL),
			notify.WithRateLimit(cfg.Policy.SendPerSecond, 1))
	}

	p := cfg.Policy
	manager := browser.NewManager(browser.Options{
		ChromePath:   cfg.ChromePath,
		Headless:     cfg.Headless,
		NavAttempts:  p.NavAttempts,
		NavTimeout:   p.NavTimeout,
		NavDelay:     p.NavDelay,
		Settle:       p.Settle,
		ScrollPx:     p.ScrollPx,
		ScrollSettle: p.ScrollSettle,
		PauseMin:     p.PauseMin,
		PauseMax:     p.PauseMax,
	}, logger)

	launcher := poll.LaunchFunc(func(ctx context.Context) (poll.Session, error) {
		s, err := manager.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	monitor := poll.New(store, launcher, led, notify.New(provider, logger), poll.Options{
		Location:      loc,
		MaxItems:      p.MaxItems,
		FreshnessDays: p.FreshnessDays,
	}, logger)

	srv := server.New(&server.Config{
		Store:        store,
		Poller:       monitor,
		Logger:       logger,
		IsNotFound:   subscriptions.IsNotFound,
		IsScanActive: func(err error) bool { return errors.Is(err, poll.ErrScanInProgress) },
	})
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.ListenAndServe(ctx, cfg.Port)
	}()

	logger.Info("Notifier started",
		"port", cfg.Port,
		"timezone", loc.String(),
		"cycle_min", p.CycleMin.String(),
		"cycle_max", p.CycleMax.String())

	monitor.Run(ctx, p.CycleMin, p.CycleMax)

	stop()
	if err := <-serverDone; err != nil {
		logger.Error("HTTP server exited with error", "error", err)
	}
	logger.Info("Notifier stopped")
	return nil
}

func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() { _ = f.Close() }
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, closeFn, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*subscriptions.Store, func(), error) {
	if cfg.LocalStorage != "" {
		logger.Info("Running with local subscription storage", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create local storage directory: %w", err)
		}
		return subscriptions.New(nil, "", cfg.LocalStorage, logger), func() {}, nil
	}

	client, err := storage.NewClient(ctx, option.WithUserAgent("yad2-notifier"))
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage client: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	logger.Info("Running with Cloud Storage subscriptions", "bucket", cfg.StorageBucket)
	return subscriptions.New(client, cfg.StorageBucket, "", logger), closeFn, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (closingLedger, error) {
	if cfg.DatabaseURL != "" {
		l, err := ledger.OpenPostgres(ctx, cfg.DatabaseURL, 2)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return l, nil
	}
	l, err := ledger.OpenSQLite(ctx, cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	return l, nil
}
