// reconciler.go — единая точка регистрации файлов в леджере.
//
// Каталожный проход и webhook вызывают Ingest для каждого найденного файла.
// Повторная регистрация того же file_id ничего не меняет в существующей
// строке, поэтому файл, найденный обоими путями, мигрирует один раз.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// IngestOutcome — исход регистрации файла.
type IngestOutcome string

const (
	IngestAccepted  IngestOutcome = "accepted"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestRejected  IngestOutcome = "rejected"
)

// IngestResult — результат Ingest. Reason заполняется для rejected.
type IngestResult struct {
	Outcome IngestOutcome
	Reason  string
}

// IngestPolicy — фильтр допустимых файлов.
type IngestPolicy struct {
	// AllowedTypes — допустимые типы файлов; пустой список разрешает любые
	AllowedTypes []string
	// MaxSizeBytes — максимальный размер файла; 0 — без ограничения
	MaxSizeBytes int64
}

// Reconciler регистрирует файлы из каталога и из webhook.
type Reconciler struct {
	ledger  repository.LedgerRepository
	allowed map[string]struct{}
	maxSize int64
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler создаёт Reconciler с заданной политикой фильтрации.
func NewReconciler(ledger repository.LedgerRepository, policy IngestPolicy, logger *slog.Logger) *Reconciler {
	allowed := make(map[string]struct{}, len(policy.AllowedTypes))
	for _, t := range policy.AllowedTypes {
		allowed[model.NormalizeFileType(t)] = struct{}{}
	}
	return &Reconciler{
		ledger:  ledger,
		allowed: allowed,
		maxSize: policy.MaxSizeBytes,
		logger:  logger.With(slog.String("component", "reconciler")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ingest регистрирует файл в состоянии pending.
// Ошибка возвращается только при недоступности леджера.
func (r *Reconciler) Ingest(ctx context.Context, d model.FileDescriptor) (IngestResult, error) {
	if d.Origin == "" {
		d.Origin = model.OriginCatalog
	}
	d.FileType = model.NormalizeFileType(d.FileType)

	if reason := r.rejectReason(d); reason != "" {
		filesIngestedTotal.WithLabelValues(string(d.Origin), string(IngestRejected)).Inc()
		r.logger.Debug("Файл отклонён фильтром",
			slog.String("file_id", d.FileID),
			slog.String("reason", reason),
		)
		return IngestResult{Outcome: IngestRejected, Reason: reason}, nil
	}

	inserted, err := r.ledger.InsertIfAbsent(ctx, model.NewFileRecord(d, r.now()))
	if err != nil {
		return IngestResult{}, fmt.Errorf("регистрация файла %s: %w", d.FileID, err)
	}
	if !inserted {
		filesIngestedTotal.WithLabelValues(string(d.Origin), string(IngestDuplicate)).Inc()
		return IngestResult{Outcome: IngestDuplicate}, nil
	}

	filesIngestedTotal.WithLabelValues(string(d.Origin), string(IngestAccepted)).Inc()
	r.logger.Debug("Файл зарегистрирован",
		slog.String("file_id", d.FileID),
		slog.String("origin", string(d.Origin)),
	)
	return IngestResult{Outcome: IngestAccepted}, nil
}

// rejectReason возвращает причину отказа или пустую строку.
func (r *Reconciler) rejectReason(d model.FileDescriptor) string {
	switch {
	case d.FileID == "":
		return "пустой идентификатор файла"
	case d.Size < 0:
		return fmt.Sprintf("некорректный размер: %d", d.Size)
	case r.maxSize > 0 && d.Size > r.maxSize:
		return fmt.Sprintf("размер %d байт превышает лимит %d", d.Size, r.maxSize)
	}
	if len(r.allowed) > 0 {
		if _, ok := r.allowed[d.FileType]; !ok {
			return fmt.Sprintf("тип %q не входит в список мигрируемых", d.FileType)
		}
	}
	return ""
}
