package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gavelhouse/settlement/internal/auction"
	"github.com/gavelhouse/settlement/internal/clock"
	"github.com/gavelhouse/settlement/internal/config"
	"github.com/gavelhouse/settlement/internal/escrow"
	"github.com/gavelhouse/settlement/internal/health"
	"github.com/gavelhouse/settlement/internal/identity"
	"github.com/gavelhouse/settlement/internal/leader"
	"github.com/gavelhouse/settlement/internal/notify"
	"github.com/gavelhouse/settlement/internal/reputation"
	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/server"
	"github.com/gavelhouse/settlement/internal/settlement"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/telemetry"
	"github.com/gavelhouse/settlement/internal/wallet"

	// Register store drivers so they are available via store.Open.
	_ "github.com/gavelhouse/settlement/internal/store/memstore"
	_ "github.com/gavelhouse/settlement/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	var senders []notify.Sender
	if cfg.Notifier.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notifier.DiscordWebhookURL))
	}
	senders = append(senders, notify.NewLogSender(logger))
	notifier := notify.NewNotifier(senders, cfg.Notifier.Events, logger)

	ruleProvider := rules.NewStoreProvider(repos.Settings, cfg.Rules)
	ledger := wallet.NewLedger(repos.Accounts, repos.Payments, repos.Events, logger, tp.TracerProvider)
	esc := escrow.NewEscrow(repos.Auctions, repos.Participants, repos.Payments, ledger, ruleProvider, logger, tp.TracerProvider)
	rep := reputation.NewService(repos.Accounts, logger, tp.TracerProvider)
	mgr := auction.NewManager(repos.Auctions, repos.Bids, repos.Participants, esc, ledger, rep, ruleProvider, repos.Events, notifier, logger, tp.TracerProvider, clk)
	scanner := settlement.NewScanner(repos.Auctions, mgr, esc, rep, ruleProvider, repos.Events, notifier, logger, tp.TracerProvider, clk)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	router := server.NewRouter(logger, identity.FromConfig(cfg.Identity), server.Handlers{
		Auctions: server.NewAuctionHandler(mgr, esc, repos.Bids),
		Wallet:   server.NewWalletHandler(ledger),
		Admin:    server.NewAdminHandler(scanner, ruleProvider, repos.Settings),
		Health:   healthHandler,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "settlementd is running", slog.String("version", version))

	// runSweep is the periodic settlement work that only one replica should run.
	runSweep := func(ctx context.Context) {
		runner := settlement.NewRunner(scanner, ruleProvider, cfg.Sweep.Interval, logger)
		logger.InfoContext(ctx, "starting settlement sweep", slog.String("interval", cfg.Sweep.Interval.String()))
		if runErr := runner.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.ErrorContext(ctx, "settlement sweep stopped", slog.Any("error", runErr))
		}
	}

	switch {
	case cfg.Sweep.Enabled && cfg.LeaderElection.Enabled:
		go func() {
			logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")
			if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, runSweep, func() {
				logger.Info("settlement sweep halted")
			}); leaderErr != nil {
				logger.ErrorContext(ctx, "leader election failed, sweep disabled", slog.Any("error", leaderErr))
			}
		}()
	case cfg.Sweep.Enabled:
		go runSweep(ctx)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
