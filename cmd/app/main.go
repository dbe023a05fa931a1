package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-image-editor/internal/application"
	"telegram-image-editor/internal/config"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/infra/adapters/bfl"
	"telegram-image-editor/internal/infra/adapters/enhancer"
	"telegram-image-editor/internal/infra/adapters/imaging"
	tele "telegram-image-editor/internal/infra/adapters/telegram"
	pg "telegram-image-editor/internal/infra/db/postgres"
	"telegram-image-editor/internal/infra/events"
	"telegram-image-editor/internal/infra/i18n"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/infra/metrics"
	red "telegram-image-editor/internal/infra/redis"
	"telegram-image-editor/internal/infra/sched"
	"telegram-image-editor/internal/infra/security"
	"telegram-image-editor/internal/infra/web"
	"telegram-image-editor/internal/infra/worker"
	"telegram-image-editor/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

const (
	serviceName   = "telegram-image-editor"
	shutdownGrace = 30 * time.Second
)

type poller interface {
	StartPolling(ctx context.Context) error
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, debug level)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Runtime.Version, cfg.Runtime.Commit = version, commit
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
	logger.Info().Msg("service stopped")
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(cfg.Runtime.Version, cfg.Runtime.Commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if cfg.Database.MigrateOnStart {
		if err := pg.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	images := red.NewPendingImageRepo(redisClient, time.Hour)
	if cfg.Redis.EncryptionKey != "" {
		sealer, err := security.NewEncryptionService(cfg.Redis.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		images.WithSealer(sealer)
	}

	// ---- Repositories ----
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewUserRepo(pool), redisClient, cfg.Redis.TTL, logger)
	jobRepo := pg.NewEditJobRepo(pool)
	analyticsRepo := pg.NewAnalyticsRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Adapters ----
	provider, err := bfl.NewClient(bfl.Options{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		EditPath:          cfg.Provider.EditPath,
		AuthHeader:        cfg.Provider.AuthHeader,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	}, logger)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	processor := imaging.NewProcessor(cfg.MaxImageBytes(), cfg.Image.MaxMegapixels, logger)
	promptEnhancer, err := enhancer.New(ctx, cfg.Enhancer, logger)
	if err != nil {
		return fmt.Errorf("enhancer: %w", err)
	}
	publisher := events.New(cfg.Events, logger)
	defer publisher.Close()

	translator, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Language)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- Use cases ----
	engine := usecase.NewPollingEngine(provider, jobRepo, usecase.PollingOptions{
		Interval:    cfg.Polling.Interval,
		MaxAttempts: cfg.Polling.MaxAttempts,
	}, logger)
	userUC := usecase.NewUserUseCase(userRepo, txManager, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, analyticsRepo, red.NewLocker(redisClient), logger)
	editUC := usecase.NewEditUseCase(jobRepo, userRepo, images, processor, promptEnhancer, engine, statsUC, publisher,
		usecase.EditOptions{
			OptimizeAboveBytes: cfg.Image.OptimizeAboveMB * 1024 * 1024,
			MaxRetries:         cfg.Polling.MaxRetries,
			LogPrompts:         cfg.Runtime.Dev,
		}, logger)

	// ---- Facade + Telegram ----
	facade := application.NewBotFacade(userUC, editUC, statsUC, images, processor, nil, translator,
		application.FacadeOptions{
			AdminIDs:   cfg.Bot.AdminIDs,
			MaxImageMB: cfg.Image.MaxSizeMB,
			Version:    cfg.Runtime.Version,
		}, logger)

	var bot adapter.TelegramBotAdapter
	var updates poller
	if strings.EqualFold(cfg.Bot.Mode, "noop") {
		logger.Warn().Msg("bot.mode=noop, messages are logged instead of sent")
		bot = tele.NewNoopBotAdapter(logger)
	} else {
		tgBot, err := tele.NewRealTelegramBotAdapter(&cfg.Bot, facade, cfg.MaxImageBytes(), logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		bot, updates = tgBot, tgBot
	}
	facade.SetBot(bot)

	// ---- Recovery ----
	recoveryUC := usecase.NewRecoveryUseCase(jobRepo, engine, statsUC, publisher, images, bot, translator,
		usecase.RecoveryOptions{
			StaleAfter: cfg.Scheduler.StaleAfter,
			BatchSize:  cfg.Scheduler.BatchSize,
		}, logger)
	recoveryPool := worker.NewPool(cfg.Scheduler.Workers, logger)
	recoveryPool.Start(ctx)
	defer recoveryPool.Stop()
	recovery := sched.NewRecoveryWorker(cfg.Scheduler.RecoveryCron, recoveryUC, recoveryPool, logger)

	// ---- HTTP ----
	server := web.NewServer(statsUC, map[string]web.HealthCheck{
		"db":       pool.Ping,
		"redis":    redisClient.Ping,
		"provider": provider.HealthCheck,
	}, web.NewAuthManager(cfg.Web.JWTSecret, cfg.Web.Secure, cfg.Web.SessionTTL), cfg.Web.AdminAPIKey, web.Info{
		Name:            serviceName,
		Version:         cfg.Runtime.Version,
		MaxImageMB:      cfg.Image.MaxSizeMB,
		MinPromptLength: model.MinPromptLength,
		MaxPromptLength: model.MaxPromptLength,
		AspectRatios:    aspectRatios(),
		OutputFormats:   outputFormats(),
	}, logger)

	logger.Info().Str("version", cfg.Runtime.Version).Str("bot_mode", cfg.Bot.Mode).Msg("service starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(server.ListenAndServe(gctx, cfg.Web.Port)) })
	g.Go(func() error { return ignoreCanceled(recovery.Run(gctx)) })
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
		return nil
	})
	if updates != nil {
		g.Go(func() error { return ignoreCanceled(updates.StartPolling(gctx)) })
	}
	err = g.Wait()

	// Edits still running after the grace period stay PROCESSING and are
	// resumed by the recovery worker on the next start.
	logger.Info().Msg("waiting for running edits")
	done := make(chan struct{})
	go func() {
		facade.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn().Dur("grace", shutdownGrace).Msg("edits still running at shutdown")
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func aspectRatios() []string {
	out := make([]string, 0, len(model.SupportedAspectRatios))
	for _, a := range model.SupportedAspectRatios {
		out = append(out, string(a))
	}
	return out
}

func outputFormats() []string {
	out := make([]string, 0, len(model.SupportedOutputFormats))
	for _, f := range model.SupportedOutputFormats {
		out = append(out, string(f))
	}
	return out
}
