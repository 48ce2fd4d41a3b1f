package commands

// Command to run the full service
// Wires config, registry, bot session manager, dispatcher, scheduler and
// the HTTP control surface, with graceful shutdown on SIGINT/SIGTERM

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"watcher-hub/internal/botmgr"
	"watcher-hub/internal/infra/config"
	logging "watcher-hub/internal/infra/log"
	"watcher-hub/internal/notify"
	"watcher-hub/internal/upstream"
	"watcher-hub/internal/watcher"
	"watcher-hub/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watcher hub (scheduler + bot sessions + HTTP control surface)",
	Long:  `Run the complete service: the sweep scheduler, per-tenant Telegram bot sessions and the HTTP API for managing watcher registrations.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.LogError("Failed to load config", zap.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := watcher.NewRegistry(cfg.Monitor.LogCapacity, cfg.Monitor.HistoryLength)

	manager := botmgr.NewManager(registry, botmgr.TelegramFactory, botmgr.Options{
		UpdateTimeout: cfg.Session.UpdateTimeout,
		TeardownGrace: time.Duration(cfg.Session.TeardownGrace) * time.Second,
		SendRate:      cfg.Session.SendRate,
		SendBurst:     cfg.Session.SendBurst,
		ChartsDir:     cfg.Monitor.ChartsDir,
	})
	registry.AttachSessions(manager)

	dispatcher := notify.NewDispatcher(registry, manager)

	provider := upstream.NewClient(cfg.Monitor.UpstreamURL)
	scheduler := watcher.NewScheduler(registry, provider.Adapters(), dispatcher, watcher.SchedulerOptions{
		SweepInterval:  time.Duration(cfg.Monitor.SweepInterval) * time.Second,
		AdapterTimeout: time.Duration(cfg.Monitor.AdapterTimeout) * time.Second,
		MaxRetries:     cfg.Monitor.MaxRetries,
		WorkerPoolSize: cfg.Monitor.WorkerPoolSize,
	})

	server := web.NewServer(web.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}, registry, manager)

	go scheduler.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logging.LogSuccess("Watcher hub is running",
		zap.String("addr", cfg.Server.ListenAddr),
		zap.Int("sweepIntervalSec", cfg.Monitor.SweepInterval))

	select {
	case <-ctx.Done():
		logging.LogInfo("Shutdown signal received, stopping...")
	case err := <-serverErr:
		if err != nil {
			logging.LogError("HTTP server failed", zap.Error(err))
			cancel()
			manager.Close()
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.LogWarn("Control server shutdown error", zap.Error(err))
	}

	manager.Close()

	logging.LogSuccess("Watcher hub stopped gracefully")
	return nil
}
