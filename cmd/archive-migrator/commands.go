package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bigkaa/archive-migrator/internal/api/handlers"
	"github.com/bigkaa/archive-migrator/internal/api/middleware"
	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
	"github.com/bigkaa/archive-migrator/internal/replay"
	"github.com/bigkaa/archive-migrator/internal/server"
	"github.com/bigkaa/archive-migrator/internal/service"
)

const (
	serviceName = "archive-migrator"
	// replayGuardSize — ёмкость защиты от повторов в памяти.
	replayGuardSize = 100_000
)

func migrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Каталожный проход и перенос всех ожидающих файлов",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			app, err := openPipeline(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := runMigrate(cmd.Context(), app); err != nil {
				return err
			}
			return printStats(cmd.Context(), cmd.OutOrStdout(), app.migrations)
		},
	}
}

func serveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Webhook, операторский API и планировщик",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateWebhook(); err != nil {
				return err
			}
			app, err := openPipeline(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			return runServe(cmd.Context(), app)
		},
	}
}

func bothCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "both",
		Short: "migrate, затем serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateWebhook(); err != nil {
				return err
			}
			app, err := openPipeline(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := runMigrate(cmd.Context(), app); err != nil {
				return err
			}
			if err := printStats(cmd.Context(), cmd.OutOrStdout(), app.migrations); err != nil {
				return err
			}
			return runServe(cmd.Context(), app)
		},
	}
}

func statsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Статистика леджера",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			app, err := openLedger(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			return printStats(cmd.Context(), cmd.OutOrStdout(), app.migrations)
		},
	}
}

func retryCommand(flags *globalFlags) *cobra.Command {
	var (
		fileID      string
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Вернуть failed-файлы в очередь",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			app, err := openLedger(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if fileID != "" {
				if err := app.migrations.Retry(cmd.Context(), fileID); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", fileID, status.Pending)
				return nil
			}
			n, err := app.migrations.RetryFailed(cmd.Context(), maxAttempts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Возвращено в очередь: %d\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file-id", "", "идентификатор одного файла")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "только файлы с числом попыток меньше заданного (0 — все)")
	return cmd
}

// runMigrate выполняет пакетный режим: справочники, каталог, очередь.
// Ошибка источника при каталожном проходе не прерывает перенос уже
// зарегистрированных файлов. Отмена ctx завершает команду без ошибки.
func runMigrate(ctx context.Context, app *pipelineApp) error {
	logger := app.logger

	if app.cfg.StalledAfter > 0 {
		if _, err := app.migrations.RecoverStalled(ctx, app.cfg.StalledAfter); err != nil {
			return err
		}
	}

	if err := app.catalog.SyncDirectory(ctx); err != nil {
		return err
	}

	res, err := app.catalog.Sync(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		logger.Warn("Пакетный перенос прерван",
			slog.Int("seen", res.Seen),
			slog.String("error", err.Error()),
		)
		return nil
	case errors.Is(err, service.ErrSourceUnavailable):
		logger.Error("Каталожный проход прерван, переносятся уже зарегистрированные файлы",
			slog.Int("seen", res.Seen),
			slog.String("error", err.Error()),
		)
	case err != nil:
		return err
	}

	run, err := app.migrations.Drain(ctx, model.TriggerCLI, app.cfg.BatchSize)
	if err != nil {
		return err
	}
	logger.Info("Пакетный перенос завершён",
		slog.String("run_id", run.ID),
		slog.Int("successful", run.Result.Successful),
		slog.Int("failed", run.Result.Failed),
	)
	return nil
}

// runServe запускает планировщик, мониторинг зависимостей и HTTP-сервер
// до отмены ctx.
func runServe(ctx context.Context, app *pipelineApp) error {
	cfg, logger := app.cfg, app.logger

	guard := newReplayGuard(app)

	scheduler := service.NewScheduler(app.migrations, service.SchedulerConfig{
		Interval:      cfg.MigrationInterval,
		AutoRetry:     cfg.AutoRetry,
		RetryAttempts: cfg.RetryAttempts,
		StalledAfter:  cfg.StalledAfter,
		BatchSize:     cfg.BatchSize,
	}, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	routes := server.Routes{
		Health: handlers.NewHealthHandler(app.readiness),
		Webhook: handlers.NewWebhookHandler(handlers.WebhookConfig{
			Secret:             cfg.WebhookSecret,
			MaxSkew:            cfg.WebhookMaxSkew,
			ProcessImmediately: cfg.WebhookProcessImmediately,
		}, guard, app.slack, app.reconciler, scheduler, logger),
		Migration: handlers.NewMigrationHandler(app.migrations, cfg.BatchSize, cfg.RetryAttempts, logger),
	}

	if cfg.JWTJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWTJWKSURL,
			Issuer:          cfg.JWTIssuer,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("ошибка создания JWT middleware: %w", err)
		}
		routes.Auth = jwtAuth.Middleware()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("MG_JWT_JWKS_URL не задан, операторский API без авторизации")
	}

	dephealthSvc, err := service.NewDephealthService(serviceName, cfg.DephealthGroup, service.DephealthTargets{
		DB:          app.sqlDB(),
		PostgresURL: cfg.DatabaseURL(),
		SlackAPIURL: app.slack.BaseURL(),
		JWKSURL:     cfg.JWTJWKSURL,
	}, cfg.DephealthCheckInterval, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
	}

	srv := server.New(cfg, logger, routes,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	)
	return srv.Run(ctx)
}

// newReplayGuard выбирает защиту от повторов: Redis, если адрес задан,
// иначе память процесса.
func newReplayGuard(app *pipelineApp) replay.Guard {
	cfg, logger := app.cfg, app.logger
	ttl := handlers.ReplayWindow(cfg.WebhookMaxSkew)
	if cfg.RedisAddr == "" {
		logger.Info("Защита от повторов webhook в памяти процесса")
		return replay.NewMemoryGuard(replayGuardSize, ttl)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	app.closers = append(app.closers, func() { _ = client.Close() })
	logger.Info("Защита от повторов webhook в Redis", slog.String("addr", cfg.RedisAddr))
	return replay.NewRedisGuard(client, ttl)
}

// printStats выводит агрегат леджера.
func printStats(ctx context.Context, out io.Writer, migrations *service.MigrationService) error {
	stats, err := migrations.Stats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", stats.Total)
	fmt.Fprintf(tw, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(tw, "failed\t%d\n", stats.Failed)
	for _, st := range status.All() {
		if st == status.Completed || st == status.Failed {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\n", st, stats.ByStatus[st])
	}
	return tw.Flush()
}
