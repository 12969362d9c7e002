package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/makt28/stockwatch/internal/bot"
	"github.com/makt28/stockwatch/internal/capture"
	"github.com/makt28/stockwatch/internal/config"
	"github.com/makt28/stockwatch/internal/fetch"
	"github.com/makt28/stockwatch/internal/monitor"
	"github.com/makt28/stockwatch/internal/notify"
	"github.com/makt28/stockwatch/internal/storage"
	"github.com/makt28/stockwatch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot, the monitor scheduler and the HTTP API.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// newProber builds the fetch and capture pipeline shared by serve and check.
func newProber(cfg config.Config) (*monitor.AvailabilityProber, error) {
	fetcher, err := fetch.New(fetch.OptionsFromConfig(cfg.Stealth))
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	capOpts := capture.OptionsFromConfig(cfg.Capture)
	capOpts.Referer = fetcher.Referer
	shots := capture.New(capOpts)

	return monitor.NewAvailabilityProber(fetcher, shots, cfg.Monitor.UnavailablePhrases, cfg.Capture.TimeoutDuration()), nil
}

func runServe(parent context.Context) error {
	// --- 1. Load Config ---
	cfgMgr, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	cfg := cfgMgr.Get()
	slog.Info("starting stockwatch", "bind", cfg.System.BindAddress, "interval", cfg.Monitor.IntervalDuration())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Probing pipeline ---
	prober, err := newProber(cfg)
	if err != nil {
		return err
	}
	history := storage.NewHistory(cfg.Monitor.HistoryPoints)

	// --- 3. Telegram bot ---
	// The bot's update handler needs the command handler, which needs the
	// registry, which needs the bot to send. The closure breaks the cycle.
	var handler *bot.Handler
	var messenger notify.Messenger
	var tg *tgbot.Bot
	if cfg.Telegram.BotToken != "" {
		tg, err = tgbot.New(cfg.Telegram.BotToken, tgbot.WithDefaultHandler(
			func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
				handler.OnUpdate(ctx, b, update)
			}))
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		messenger = notify.NewTelegramSender(tg, cfg.Telegram.SendRate)
	} else {
		slog.Warn("no telegram token configured, running without the bot", "env", config.EnvBotToken)
	}
	router := notify.NewRouter(messenger, cfgMgr)

	// --- 4. Scheduler & Registry ---
	scheduler := monitor.NewCronScheduler(cfg.Monitor.IntervalDuration())
	registry := monitor.NewRegistry(monitor.RegistryOptions{
		Prober:       prober,
		Notifier:     router,
		Scheduler:    scheduler,
		Policy:       monitor.PolicyFromConfig(cfg.Monitor),
		History:      history,
		ProbeTimeout: cfg.Monitor.ProbeTimeoutDuration(),
		MaxTasks:     cfg.Monitor.MaxTasks,
		Timezone:     cfg.System.Timezone,
	})
	scheduler.Start()

	if tg != nil {
		handler = bot.NewHandler(bot.Options{
			Monitors: registry,
			Prober:   prober,
			Out:      router,
			History:  history,
			Config:   cfgMgr,
		})
		if err := handler.RegisterCommands(ctx, tg); err != nil {
			slog.Warn("failed to register bot commands", "error", err)
		}
		go func() {
			slog.Info("telegram bot polling started")
			tg.Start(ctx)
			slog.Info("telegram bot polling stopped")
		}()
	}

	// --- 5. HTTP Server ---
	stopCh := make(chan struct{})
	srv := &http.Server{
		Addr: cfg.System.BindAddress,
		Handler: web.NewRouter(web.Deps{
			Config:    cfgMgr,
			Monitors:  registry,
			Prober:    prober,
			History:   history,
			Messenger: router,
			StopCh:    stopCh,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("stockwatch is running", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// --- 6. Graceful Shutdown ---
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-serveErr:
		slog.Error("server error", "error", err)
		stop()
	}

	close(stopCh)
	registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Warn("scheduler did not drain in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}

	slog.Info("stockwatch stopped gracefully")
	return nil
}
