package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/archive-migrator/internal/analyzer"
	"github.com/bigkaa/archive-migrator/internal/api/handlers"
	"github.com/bigkaa/archive-migrator/internal/config"
	"github.com/bigkaa/archive-migrator/internal/database"
	"github.com/bigkaa/archive-migrator/internal/drive"
	"github.com/bigkaa/archive-migrator/internal/events"
	"github.com/bigkaa/archive-migrator/internal/repository"
	"github.com/bigkaa/archive-migrator/internal/service"
	"github.com/bigkaa/archive-migrator/internal/slackapi"
)

// ledgerApp — леджер и операции над ним (команды stats, retry).
type ledgerApp struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *repository.Store
	pool       *pgxpool.Pool
	readiness  handlers.ReadinessChecker
	migrations *service.MigrationService
	closers    []func()
}

// openLedger подключает леджер: PostgreSQL с миграциями или память процесса.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledgerApp, error) {
	a := &ledgerApp{cfg: cfg, logger: logger}

	switch cfg.DBDriver {
	case config.DriverMemory:
		logger.Warn("Леджер хранится в памяти процесса, состояние не переживёт перезапуск")
		a.store = repository.NewMemoryStore()
		a.readiness = database.MemoryChecker{}
	default:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, fmt.Errorf("ошибка миграций БД: %w", err)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.store = repository.NewPostgresStore(pool)
		a.readiness = database.NewReadinessChecker(pool)
	}

	a.migrations = service.NewMigrationService(a.store.Ledger, a.store.Runs, nil, logger)
	return a, nil
}

// sqlDB возвращает *sql.DB поверх пула для topologymetrics; nil без PostgreSQL.
func (a *ledgerApp) sqlDB() *sql.DB {
	if a.pool == nil {
		return nil
	}
	db := stdlib.OpenDBFromPool(a.pool)
	a.closers = append(a.closers, func() { _ = db.Close() })
	return db
}

// Close освобождает ресурсы в обратном порядке.
func (a *ledgerApp) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// pipelineApp — леджер и полный конвейер переноса.
type pipelineApp struct {
	*ledgerApp
	slack       *slackapi.Client
	reconciler  *service.Reconciler
	catalog     *service.CatalogSync
	coordinator *service.Coordinator
}

// openPipeline собирает конвейер: Slack → анализ → Drive.
func openPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipelineApp, error) {
	la, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &pipelineApp{ledgerApp: la}
	if err := a.build(ctx); err != nil {
		la.Close()
		return nil, err
	}
	return a, nil
}

func (a *pipelineApp) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	a.slack = slackapi.New(slackapi.Config{
		BaseURL:  cfg.SlackAPIURL,
		Token:    cfg.SlackBotToken,
		PageSize: cfg.SlackPageSize,
	}, nil, logger)

	googleOpts := drive.ClientOptions(cfg.GoogleCredentialsPath, cfg.GoogleProjectID)
	store, err := drive.New(ctx, drive.Config{SharedDriveID: cfg.DriveSharedDriveID}, logger, googleOpts...)
	if err != nil {
		return fmt.Errorf("ошибка создания клиента Google Drive: %w", err)
	}

	var contentAnalyzer service.ContentAnalyzer
	if cfg.AnalysisEnabled {
		vision, err := analyzer.NewVision(ctx, analyzer.VisionConfig{
			Features:   cfg.VisionFeatures,
			MaxResults: cfg.VisionMaxResults,
		}, logger, googleOpts...)
		if err != nil {
			return fmt.Errorf("ошибка создания клиента Vision: %w", err)
		}
		video, err := analyzer.NewVideo(ctx, analyzer.VideoConfig{Features: cfg.VideoFeatures}, logger, googleOpts...)
		if err != nil {
			return fmt.Errorf("ошибка создания клиента Video Intelligence: %w", err)
		}
		contentAnalyzer = analyzer.NewDispatcher(vision, video)
	} else {
		logger.Info("Анализ содержимого отключён")
	}

	var publisher service.EventPublisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		a.closers = append(a.closers, func() {
			if err := kp.Close(); err != nil {
				logger.Warn("Ошибка закрытия Kafka writer", slog.String("error", err.Error()))
			}
		})
		publisher = kp
		logger.Info("События переходов публикуются в Kafka",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	a.reconciler = service.NewReconciler(a.store.Ledger, service.IngestPolicy{
		AllowedTypes: cfg.FileTypes,
		MaxSizeBytes: cfg.MaxFileSizeBytes(),
	}, logger)
	a.catalog = service.NewCatalogSync(a.slack, a.slack, a.reconciler, a.store.Directory, logger)

	folders := service.NewFolderResolver(service.FolderResolverConfig{
		RootFolderID: cfg.DriveRootFolderID,
		CacheSize:    cfg.FolderCacheSize,
		CacheTTL:     cfg.FolderCacheTTL,
	}, a.store.Folders, a.store.Directory, a.slack, store, logger)

	a.coordinator = service.NewCoordinator(
		a.store.Ledger,
		a.slack,
		contentAnalyzer,
		store,
		folders,
		publisher,
		service.CoordinatorConfig{
			BatchSize:       cfg.BatchSize,
			MaxConcurrent:   cfg.MaxConcurrent,
			DownloadTimeout: cfg.DownloadTimeout,
			AnalyzeTimeout:  cfg.AnalyzeTimeout,
			UploadTimeout:   cfg.UploadTimeout,
			DownloadDir:     cfg.DownloadDir,
			AnalysisEnabled: cfg.AnalysisEnabled,
		},
		logger,
	)
	a.migrations = service.NewMigrationService(a.store.Ledger, a.store.Runs, a.coordinator, logger)
	return nil
}
