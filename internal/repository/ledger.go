package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
)

// LedgerRepository — доступ к таблице migration_files.
//
// Все изменения состояния — условные UPDATE ... WHERE status = <ожидаемое>.
// Возврат false без ошибки означает, что строка уже не в ожидаемом
// состоянии (её захватил или продвинул кто-то другой).
type LedgerRepository interface {
	// InsertIfAbsent вставляет строку в pending. false — строка с таким
	// file_id уже есть, существующая строка не изменяется.
	InsertIfAbsent(ctx context.Context, rec *model.FileRecord) (bool, error)
	// Get возвращает строку по внешнему идентификатору.
	Get(ctx context.Context, fileID string) (*model.FileRecord, error)
	// List возвращает строки по фильтру и общее число подходящих строк.
	List(ctx context.Context, filter LedgerFilter) ([]*model.FileRecord, int, error)
	// ListPending возвращает до limit строк в pending в порядке регистрации.
	ListPending(ctx context.Context, limit int) ([]*model.FileRecord, error)
	// Claim захватывает строку: pending → downloading, attempt_count + 1.
	Claim(ctx context.Context, fileID string) (bool, error)
	// Transition выполняет промежуточный переход from → to.
	// Для completed и failed используются Complete и Fail.
	Transition(ctx context.Context, fileID string, from, to status.Status) (bool, error)
	// Complete фиксирует успех одной записью: destination_id, folder_id,
	// tags и completed. Условие — строка в uploading.
	Complete(ctx context.Context, fileID string, c model.Completion) (bool, error)
	// Fail переводит строку из from в failed с текстом ошибки.
	Fail(ctx context.Context, fileID string, from status.Status, message string) (bool, error)
	// Requeue возвращает одну строку failed → pending.
	Requeue(ctx context.Context, fileID string) (bool, error)
	// RequeueFailed возвращает в pending все failed-строки с attempt_count
	// меньше maxAttempts (maxAttempts <= 0 — без ограничения).
	RequeueFailed(ctx context.Context, maxAttempts int) (int64, error)
	// RecoverStalled переводит в failed строки, застрявшие в промежуточном
	// состоянии с последним переходом раньше before.
	RecoverStalled(ctx context.Context, before time.Time, message string) (int64, error)
	// Stats считает агрегат по леджеру.
	Stats(ctx context.Context) (model.MigrationStats, error)
}

// LedgerFilter — фильтр списка строк леджера.
type LedgerFilter struct {
	Status *status.Status
	Limit  int
	Offset int
}

// ledgerColumns — порядок колонок для scanRecord.
const ledgerColumns = `file_id, seq, channel_id, user_id, file_name, file_type, size_bytes,
	source_created_at, destination_id, folder_id, status, error_message, tags,
	attempt_count, origin, created_at, updated_at`

// ledgerRepo — PostgreSQL-реализация LedgerRepository.
type ledgerRepo struct {
	db DBTX
}

// NewLedgerRepository создаёт репозиторий леджера.
func NewLedgerRepository(db DBTX) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) InsertIfAbsent(ctx context.Context, rec *model.FileRecord) (bool, error) {
	query := `
		INSERT INTO migration_files (file_id, channel_id, user_id, file_name, file_type,
			size_bytes, source_created_at, status, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		ON CONFLICT (file_id) DO NOTHING
		RETURNING seq, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.FileID, rec.ChannelID, rec.UserID, rec.FileName, rec.FileType,
		rec.Size, rec.SourceCreatedAt, string(rec.Origin),
	).Scan(&rec.Seq, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		// ON CONFLICT DO NOTHING не возвращает строку
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка регистрации файла %s: %w", rec.FileID, err)
	}
	rec.Status = status.Pending
	return true, nil
}

func (r *ledgerRepo) Get(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := `SELECT ` + ledgerColumns + ` FROM migration_files WHERE file_id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла %s: %w", fileID, err)
	}
	return rec, nil
}

func (r *ledgerRepo) List(ctx context.Context, filter LedgerFilter) ([]*model.FileRecord, int, error) {
	var (
		where string
		args  []any
	)
	if filter.Status != nil {
		where = "WHERE status = $1"
		args = append(args, string(*filter.Status))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM migration_files ` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	argNum := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM migration_files %s ORDER BY seq LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (r *ledgerRepo) ListPending(ctx context.Context, limit int) ([]*model.FileRecord, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM migration_files
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки pending-файлов: %w", err)
	}
	return collectRecords(rows)
}

func (r *ledgerRepo) Claim(ctx context.Context, fileID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE migration_files
		SET status = 'downloading', error_message = NULL,
			attempt_count = attempt_count + 1, updated_at = now()
		WHERE file_id = $1 AND status = 'pending'`, fileID)
	if err != nil {
		return false, fmt.Errorf("ошибка захвата файла %s: %w", fileID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ledgerRepo) Transition(ctx context.Context, fileID string, from, to status.Status) (bool, error) {
	if err := validateIntermediate(from, to); err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE migration_files
		SET status = $3, error_message = NULL, updated_at = now()
		WHERE file_id = $1 AND status = $2`, fileID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("ошибка перехода %s → %s для файла %s: %w", from, to, fileID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ledgerRepo) Complete(ctx context.Context, fileID string, c model.Completion) (bool, error) {
	if c.DestinationID == "" {
		return false, fmt.Errorf("фиксация файла %s: пустой идентификатор назначения", fileID)
	}
	tags, err := marshalTags(c.Tags)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE migration_files
		SET status = 'completed', destination_id = $2, folder_id = NULLIF($3, ''),
			tags = $4, error_message = NULL, updated_at = now()
		WHERE file_id = $1 AND status = 'uploading'`,
		fileID, c.DestinationID, c.FolderID, tags)
	if err != nil {
		if isCheckViolation(err) {
			return false, fmt.Errorf("фиксация файла %s нарушает инвариант леджера: %w", fileID, err)
		}
		return false, fmt.Errorf("ошибка фиксации файла %s: %w", fileID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ledgerRepo) Fail(ctx context.Context, fileID string, from status.Status, message string) (bool, error) {
	if err := status.Validate(from, status.Failed); err != nil {
		return false, err
	}
	if message == "" {
		message = "неизвестная ошибка"
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE migration_files
		SET status = 'failed', error_message = $3, updated_at = now()
		WHERE file_id = $1 AND status = $2`, fileID, string(from), message)
	if err != nil {
		return false, fmt.Errorf("ошибка перевода файла %s в failed: %w", fileID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ledgerRepo) Requeue(ctx context.Context, fileID string) (bool, error) {
	return r.Transition(ctx, fileID, status.Failed, status.Pending)
}

func (r *ledgerRepo) RequeueFailed(ctx context.Context, maxAttempts int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE migration_files
		SET status = 'pending', error_message = NULL, updated_at = now()
		WHERE status = 'failed' AND ($1 <= 0 OR attempt_count < $1)`, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("ошибка возврата failed-файлов в очередь: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ledgerRepo) RecoverStalled(ctx context.Context, before time.Time, message string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE migration_files
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE status IN ('downloading', 'analyzing', 'uploading') AND updated_at < $1`,
		before, message)
	if err != nil {
		return 0, fmt.Errorf("ошибка восстановления прерванных файлов: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ledgerRepo) Stats(ctx context.Context) (model.MigrationStats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM migration_files GROUP BY status`)
	if err != nil {
		return model.MigrationStats{}, fmt.Errorf("ошибка подсчёта статистики: %w", err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var (
			st    string
			count int64
		)
		if err := rows.Scan(&st, &count); err != nil {
			return model.MigrationStats{}, fmt.Errorf("ошибка чтения статистики: %w", err)
		}
		stats.ByStatus[status.Status(st)] = count
	}
	if err := rows.Err(); err != nil {
		return model.MigrationStats{}, fmt.Errorf("ошибка итерации статистики: %w", err)
	}
	return finishStats(stats), nil
}

// --- Вспомогательные функции ---

// validateIntermediate разрешает через Transition только переходы,
// не требующие дополнительных данных.
func validateIntermediate(from, to status.Status) error {
	if err := status.Validate(from, to); err != nil {
		return err
	}
	switch {
	case from == status.Pending:
		return &status.TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: "захват pending-строки выполняется через Claim",
		}
	case to == status.Completed || to == status.Failed:
		return &status.TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход в %s выполняется через Complete/Fail", to),
		}
	}
	return nil
}

// scanRecord читает одну строку леджера в порядке ledgerColumns.
func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	var (
		rec    model.FileRecord
		st     string
		origin string
		tags   []byte
	)
	err := row.Scan(
		&rec.FileID, &rec.Seq, &rec.ChannelID, &rec.UserID, &rec.FileName, &rec.FileType, &rec.Size,
		&rec.SourceCreatedAt, &rec.DestinationID, &rec.FolderID, &st, &rec.ErrorMessage, &tags,
		&rec.AttemptCount, &origin, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = status.Status(st)
	rec.Origin = model.Origin(origin)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("некорректные теги файла %s: %w", rec.FileID, err)
		}
	}
	return &rec, nil
}

// collectRecords читает все строки результата и закрывает rows.
func collectRecords(rows pgx.Rows) ([]*model.FileRecord, error) {
	defer rows.Close()

	var recs []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации файлов: %w", err)
	}
	return recs, nil
}

// marshalTags сериализует теги в JSON. nil превращается в пустой массив:
// после анализа теги всегда присутствуют, даже если их нет.
func marshalTags(tags []model.Tag) ([]byte, error) {
	if tags == nil {
		tags = []model.Tag{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации тегов: %w", err)
	}
	return data, nil
}

// newStats создаёт агрегат с нулями по всем состояниям.
func newStats() model.MigrationStats {
	byStatus := make(map[status.Status]int64, len(status.All()))
	for _, st := range status.All() {
		byStatus[st] = 0
	}
	return model.MigrationStats{ByStatus: byStatus}
}

// finishStats заполняет итоговые поля по разбивке.
func finishStats(s model.MigrationStats) model.MigrationStats {
	s.Total = 0
	for _, n := range s.ByStatus {
		s.Total += n
	}
	s.Completed = s.ByStatus[status.Completed]
	s.Failed = s.ByStatus[status.Failed]
	return s
}
