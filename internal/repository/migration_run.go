package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// MigrationRunRepository — история прогонов (таблица migration_runs).
type MigrationRunRepository interface {
	// Start записывает начало прогона.
	Start(ctx context.Context, run *model.MigrationRun) error
	// Finish записывает итог прогона.
	Finish(ctx context.Context, id string, finishedAt time.Time, res model.BatchResult) error
	// ListRecent возвращает последние прогоны, новые первыми.
	ListRecent(ctx context.Context, limit int) ([]*model.MigrationRun, error)
}

// migrationRunRepo — PostgreSQL-реализация MigrationRunRepository.
type migrationRunRepo struct {
	db DBTX
}

// NewMigrationRunRepository создаёт репозиторий истории прогонов.
func NewMigrationRunRepository(db DBTX) MigrationRunRepository {
	return &migrationRunRepo{db: db}
}

func (r *migrationRunRepo) Start(ctx context.Context, run *model.MigrationRun) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO migration_runs (id, trigger, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Trigger), run.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: прогон %s уже записан", ErrConflict, run.ID)
		}
		return fmt.Errorf("ошибка записи прогона: %w", err)
	}
	return nil
}

func (r *migrationRunRepo) Finish(ctx context.Context, id string, finishedAt time.Time, res model.BatchResult) error {
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("ошибка сериализации ошибок прогона: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE migration_runs
		SET finished_at = $2, claimed = $3, successful = $4, failed = $5,
			skipped = $6, errors = $7
		WHERE id = $1`,
		id, finishedAt, res.Claimed, res.Successful, res.Failed, res.Skipped, errsJSON)
	if err != nil {
		return fmt.Errorf("ошибка записи итога прогона: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *migrationRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.MigrationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, trigger, started_at, finished_at, claimed, successful, failed, skipped, errors
		FROM migration_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории прогонов: %w", err)
	}
	defer rows.Close()

	var runs []*model.MigrationRun
	for rows.Next() {
		var (
			run     model.MigrationRun
			trigger string
			errs    []byte
		)
		if err := rows.Scan(&run.ID, &trigger, &run.StartedAt, &run.FinishedAt,
			&run.Result.Claimed, &run.Result.Successful, &run.Result.Failed,
			&run.Result.Skipped, &errs); err != nil {
			return nil, fmt.Errorf("ошибка чтения прогона: %w", err)
		}
		run.Trigger = model.RunTrigger(trigger)
		if err := json.Unmarshal(errs, &run.Result.Errors); err != nil {
			return nil, fmt.Errorf("некорректные ошибки прогона %s: %w", run.ID, err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации прогонов: %w", err)
	}
	return runs, nil
}
