// migration.go — операторский API леджера миграции.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/archive-migrator/internal/api/errors"
	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
	"github.com/bigkaa/archive-migrator/internal/repository"
	"github.com/bigkaa/archive-migrator/internal/service"
)

// MigrationOps — операции над миграцией, используемые API.
type MigrationOps interface {
	Stats(ctx context.Context) (model.MigrationStats, error)
	ListFiles(ctx context.Context, filter repository.LedgerFilter) ([]*model.FileRecord, int, error)
	GetFile(ctx context.Context, fileID string) (*model.FileRecord, error)
	Retry(ctx context.Context, fileID string) error
	RetryFailed(ctx context.Context, maxAttempts int) (int64, error)
	RunOnce(ctx context.Context, trigger model.RunTrigger, limit int) (*model.MigrationRun, error)
	ListRuns(ctx context.Context, limit int) ([]*model.MigrationRun, error)
}

// MigrationHandler — обработчик /api/v1/migration.
type MigrationHandler struct {
	ops           MigrationOps
	batchSize     int
	retryAttempts int
	logger        *slog.Logger
}

// NewMigrationHandler создаёт обработчик операторского API.
func NewMigrationHandler(ops MigrationOps, batchSize, retryAttempts int, logger *slog.Logger) *MigrationHandler {
	return &MigrationHandler{
		ops:           ops,
		batchSize:     batchSize,
		retryAttempts: retryAttempts,
		logger:        logger.With(slog.String("component", "migration_api")),
	}
}

type fileResponse struct {
	FileID          string      `json:"file_id"`
	ChannelID       string      `json:"channel_id,omitempty"`
	UserID          string      `json:"user_id,omitempty"`
	FileName        string      `json:"file_name"`
	FileType        string      `json:"file_type"`
	Size            int64       `json:"size"`
	SourceCreatedAt time.Time   `json:"source_created_at"`
	Status          string      `json:"status"`
	DestinationID   *string     `json:"destination_id,omitempty"`
	FolderID        *string     `json:"folder_id,omitempty"`
	ErrorMessage    *string     `json:"error_message,omitempty"`
	Tags            []model.Tag `json:"tags,omitempty"`
	AttemptCount    int         `json:"attempt_count"`
	Origin          string      `json:"origin"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func toFileResponse(rec *model.FileRecord) fileResponse {
	return fileResponse{
		FileID:          rec.FileID,
		ChannelID:       rec.ChannelID,
		UserID:          rec.UserID,
		FileName:        rec.FileName,
		FileType:        rec.FileType,
		Size:            rec.Size,
		SourceCreatedAt: rec.SourceCreatedAt,
		Status:          string(rec.Status),
		DestinationID:   rec.DestinationID,
		FolderID:        rec.FolderID,
		ErrorMessage:    rec.ErrorMessage,
		Tags:            rec.Tags,
		AttemptCount:    rec.AttemptCount,
		Origin:          string(rec.Origin),
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

type fileListResponse struct {
	Items  []fileResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type runResponse struct {
	ID         string            `json:"id"`
	Trigger    string            `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Result     model.BatchResult `json:"result"`
}

func toRunResponse(run *model.MigrationRun) runResponse {
	return runResponse{
		ID:         run.ID,
		Trigger:    string(run.Trigger),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Result:     run.Result,
	}
}

// Stats — GET /api/v1/migration/stats.
func (h *MigrationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ops.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListFiles — GET /api/v1/migration/files?status=&limit=&offset=.
func (h *MigrationHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный offset")
		return
	}
	limit, offset = paginationDefaults(limit, offset)

	filter := repository.LedgerFilter{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := status.Parse(raw)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Status = &st
	}

	recs, total, err := h.ops.ListFiles(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := fileListResponse{Items: make([]fileResponse, 0, len(recs)), Total: total, Limit: limit, Offset: offset}
	for _, rec := range recs {
		resp.Items = append(resp.Items, toFileResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFile — GET /api/v1/migration/files/{fileID}.
func (h *MigrationHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ops.GetFile(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// RetryFile — POST /api/v1/migration/files/{fileID}/retry.
func (h *MigrationHandler) RetryFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if err := h.ops.Retry(r.Context(), fileID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_id": fileID, "status": string(status.Pending)})
}

// RetryFailed — POST /api/v1/migration/retry-failed?max_attempts=.
func (h *MigrationHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	maxAttempts, err := queryInt(r, "max_attempts", h.retryAttempts)
	if err != nil || maxAttempts < 0 {
		apierrors.ValidationError(w, "Некорректный max_attempts")
		return
	}
	n, err := h.ops.RetryFailed(r.Context(), maxAttempts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

// StartRun — POST /api/v1/migration/runs?limit=. Выполняет одну пачку;
// limit ограничен сверху так же, как в списках.
func (h *MigrationHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", h.batchSize)
	if err != nil || limit < 1 {
		apierrors.ValidationError(w, "Некорректный limit")
		return
	}
	limit, _ = paginationDefaults(limit, 0)
	run, err := h.ops.RunOnce(r.Context(), model.TriggerAPI, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// ListRuns — GET /api/v1/migration/runs?limit=.
func (h *MigrationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный limit")
		return
	}
	limit, _ = paginationDefaults(limit, 0)

	runs, err := h.ops.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// writeServiceError преобразует ошибку сервиса в HTTP-ответ.
func (h *MigrationHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	default:
		h.logger.Error("Ошибка операции миграции", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
