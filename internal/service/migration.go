// migration.go — операции оператора над леджером и прогонами.
//
// MigrationService используется API, CLI и планировщиком: статистика,
// просмотр строк, повтор failed и запуск прогонов с записью в migration_runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// StalledMessage — error_message строк, прерванных остановкой процесса.
const StalledMessage = "прервано: процесс завершился до фиксации результата"

// BatchRunner — запуск одной пачки конвейера.
type BatchRunner interface {
	RunBatch(ctx context.Context, limit int) (model.BatchResult, error)
}

// MigrationService — операции над миграцией.
type MigrationService struct {
	ledger repository.LedgerRepository
	runs   repository.MigrationRunRepository
	runner BatchRunner
	logger *slog.Logger
	now    func() time.Time
}

// NewMigrationService создаёт сервис операций миграции.
func NewMigrationService(
	ledger repository.LedgerRepository,
	runs repository.MigrationRunRepository,
	runner BatchRunner,
	logger *slog.Logger,
) *MigrationService {
	return &MigrationService{
		ledger: ledger,
		runs:   runs,
		runner: runner,
		logger: logger.With(slog.String("component", "migration")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Stats возвращает агрегат по леджеру.
func (s *MigrationService) Stats(ctx context.Context) (model.MigrationStats, error) {
	return s.ledger.Stats(ctx)
}

// ListFiles возвращает строки леджера и общее количество подходящих.
func (s *MigrationService) ListFiles(ctx context.Context, filter repository.LedgerFilter) ([]*model.FileRecord, int, error) {
	return s.ledger.List(ctx, filter)
}

// GetFile возвращает строку леджера.
func (s *MigrationService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	rec, err := s.ledger.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
		}
		return nil, err
	}
	return rec, nil
}

// Retry возвращает failed-строку в pending.
// Строка в другом состоянии — ErrInvalidTransition.
func (s *MigrationService) Retry(ctx context.Context, fileID string) error {
	rec, err := s.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if rec.Status != status.Failed {
		return fmt.Errorf("%w: файл %s в состоянии %s", ErrInvalidTransition, fileID, rec.Status)
	}
	ok, err := s.ledger.Requeue(ctx, fileID)
	if err != nil {
		return fmt.Errorf("повтор файла %s: %w", fileID, err)
	}
	if !ok {
		return fmt.Errorf("%w: файл %s изменён параллельно", ErrInvalidTransition, fileID)
	}
	transitionsTotal.WithLabelValues(string(status.Pending)).Inc()
	s.logger.Info("Файл возвращён в очередь", slog.String("file_id", fileID))
	return nil
}

// RetryFailed возвращает в pending все failed-строки с числом попыток
// меньше maxAttempts (0 — без ограничения).
func (s *MigrationService) RetryFailed(ctx context.Context, maxAttempts int) (int64, error) {
	n, err := s.ledger.RequeueFailed(ctx, maxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		transitionsTotal.WithLabelValues(string(status.Pending)).Add(float64(n))
		s.logger.Info("Failed-файлы возвращены в очередь",
			slog.Int64("count", n),
			slog.Int("max_attempts", maxAttempts),
		)
	}
	return n, nil
}

// RecoverStalled переводит в failed строки, застрявшие в промежуточном
// состоянии дольше olderThan.
func (s *MigrationService) RecoverStalled(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.ledger.RecoverStalled(ctx, s.now().Add(-olderThan), StalledMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		transitionsTotal.WithLabelValues(string(status.Failed)).Add(float64(n))
		s.logger.Warn("Прерванные файлы переведены в failed", slog.Int64("count", n))
	}
	return n, nil
}

// RunOnce выполняет одну пачку и записывает прогон.
func (s *MigrationService) RunOnce(ctx context.Context, trigger model.RunTrigger, limit int) (*model.MigrationRun, error) {
	return s.record(ctx, trigger, func(ctx context.Context, res *model.BatchResult) error {
		out, err := s.runner.RunBatch(ctx, limit)
		res.Merge(out)
		return err
	})
}

// Drain выполняет пачки, пока в очереди есть pending-строки или ctx не
// отменён, и записывает всё как один прогон.
func (s *MigrationService) Drain(ctx context.Context, trigger model.RunTrigger, limit int) (*model.MigrationRun, error) {
	return s.record(ctx, trigger, func(ctx context.Context, res *model.BatchResult) error {
		for ctx.Err() == nil {
			out, err := s.runner.RunBatch(ctx, limit)
			res.Merge(out)
			if err != nil {
				return err
			}
			if out.Claimed+out.Skipped == 0 {
				return nil
			}
		}
		return nil
	})
}

// ListRuns возвращает последние прогоны.
func (s *MigrationService) ListRuns(ctx context.Context, limit int) ([]*model.MigrationRun, error) {
	return s.runs.ListRecent(ctx, limit)
}

// record оборачивает прогон записью в migration_runs.
func (s *MigrationService) record(
	ctx context.Context,
	trigger model.RunTrigger,
	run func(ctx context.Context, res *model.BatchResult) error,
) (*model.MigrationRun, error) {
	mr := &model.MigrationRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now(),
	}
	if err := s.runs.Start(ctx, mr); err != nil {
		batchRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("запись начала прогона: %w", err)
	}

	runErr := run(ctx, &mr.Result)

	finished := s.now()
	mr.FinishedAt = &finished
	if runErr != nil {
		mr.Result.Errors = append(mr.Result.Errors, "прогон прерван: "+runErr.Error())
	}
	// Итог записывается и после отмены ctx.
	if err := s.runs.Finish(context.WithoutCancel(ctx), mr.ID, finished, mr.Result); err != nil {
		s.logger.Warn("Ошибка записи итога прогона",
			slog.String("run_id", mr.ID),
			slog.String("error", err.Error()),
		)
	}

	if runErr != nil {
		batchRunsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Прогон прерван ошибкой леджера",
			slog.String("run_id", mr.ID),
			slog.String("trigger", string(trigger)),
			slog.String("error", runErr.Error()),
		)
		return mr, runErr
	}

	batchRunsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Прогон завершён",
		slog.String("run_id", mr.ID),
		slog.String("trigger", string(trigger)),
		slog.Int("successful", mr.Result.Successful),
		slog.Int("failed", mr.Result.Failed),
		slog.Duration("duration", finished.Sub(mr.StartedAt)),
	)
	return mr, nil
}
