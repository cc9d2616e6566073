// scheduler.go — фоновый запуск конвейера по таймеру.
//
// При старте строки, застрявшие в промежуточном состоянии после падения
// процесса, переводятся в failed. На каждом тике планировщик при
// включённом auto-retry возвращает в очередь failed-строки с числом
// попыток меньше RetryAttempts и прогоняет очередь до опустошения.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// SchedulerConfig — параметры планировщика.
type SchedulerConfig struct {
	Interval      time.Duration
	AutoRetry     bool
	RetryAttempts int
	StalledAfter  time.Duration
	BatchSize     int
}

// Scheduler — фоновый цикл прогонов.
type Scheduler struct {
	migrations *MigrationService
	cfg        SchedulerConfig
	logger     *slog.Logger

	// trigger — внеочередной прогон (webhook с process_immediately)
	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewScheduler создаёт планировщик.
func NewScheduler(migrations *MigrationService, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		migrations: migrations,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scheduler")),
		trigger:    make(chan struct{}, 1),
	}
}

// Start запускает фоновую горутину. Вызывается один раз.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Планировщик миграции запущен",
			slog.String("interval", s.cfg.Interval.String()),
			slog.Bool("auto_retry", s.cfg.AutoRetry),
		)

		if s.cfg.StalledAfter > 0 {
			if _, err := s.migrations.RecoverStalled(ctx, s.cfg.StalledAfter); err != nil {
				s.logger.Error("Ошибка восстановления прерванных файлов", slog.String("error", err.Error()))
			}
		}

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Планировщик миграции остановлен")
				return
			case <-ticker.C:
				s.tick(ctx, model.TriggerSchedule)
			case <-s.trigger:
				s.tick(ctx, model.TriggerRealtime)
			}
		}
	}()
}

// Trigger запрашивает внеочередной прогон. Не блокирует: повторные
// запросы до начала прогона схлопываются в один.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop останавливает планировщик и ждёт завершения текущего прогона.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.done != nil {
			<-s.done
		}
	})
}

// tick выполняет один цикл планировщика.
func (s *Scheduler) tick(ctx context.Context, trigger model.RunTrigger) {
	if s.cfg.AutoRetry && trigger == model.TriggerSchedule {
		if _, err := s.migrations.RetryFailed(ctx, s.cfg.RetryAttempts); err != nil {
			s.logger.Error("Ошибка автоматического повтора", slog.String("error", err.Error()))
			return
		}
	}
	if _, err := s.migrations.Drain(ctx, trigger, s.cfg.BatchSize); err != nil {
		s.logger.Error("Ошибка прогона по расписанию", slog.String("error", err.Error()))
	}
}
