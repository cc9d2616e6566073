// coordinator.go — координатор конвейера миграции.
//
// RunBatch читает до limit строк pending в порядке регистрации и раздаёт их
// пулу воркеров (errgroup с SetLimit). Воркер захватывает строку условным
// переходом pending → downloading и проводит её до completed или failed:
//
//	downloading: загрузка байтов из источника во временный файл
//	analyzing:   анализ содержимого (только image/video, ошибка не фатальна)
//	uploading:   разрешение папки и загрузка в хранилище назначения
//
// Каждый шаг возвращает исход advance(next) или failWith(message), по
// которому координатор делает следующую запись в леджер. Ошибки адаптеров
// превращаются в failed; наружу из RunBatch выходят только ошибки леджера.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// Downloader загружает байты файла источника.
type Downloader interface {
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)
}

// ContentAnalyzer строит теги по содержимому локального файла.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, localPath string, kind model.FileKind) ([]model.Tag, error)
}

// DestinationStore — хранилище назначения.
type DestinationStore interface {
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, localPath, name, folderID string, env model.MetadataEnvelope) (string, error)
}

// FolderLocator определяет папку назначения для канала и автора.
type FolderLocator interface {
	Resolve(ctx context.Context, channelID, userID string) (string, error)
}

// EventPublisher публикует события о конечных переходах.
type EventPublisher interface {
	Publish(ctx context.Context, event model.MigrationEvent) error
}

// CoordinatorConfig — параметры конвейера.
type CoordinatorConfig struct {
	BatchSize       int
	MaxConcurrent   int
	DownloadTimeout time.Duration
	AnalyzeTimeout  time.Duration
	UploadTimeout   time.Duration
	// DownloadDir — каталог временных файлов; пустой — os.TempDir()
	DownloadDir     string
	AnalysisEnabled bool
}

// Coordinator проводит файлы леджера через конвейер.
type Coordinator struct {
	ledger     repository.LedgerRepository
	downloader Downloader
	analyzer   ContentAnalyzer
	dest       DestinationStore
	folders    FolderLocator
	events     EventPublisher
	cfg        CoordinatorConfig
	logger     *slog.Logger
	now        func() time.Time

	steps map[status.Status]stepFunc
}

// NewCoordinator создаёт координатор. analyzer и events могут быть nil:
// без анализатора теги остаются пустыми, без публикатора события не отправляются.
func NewCoordinator(
	ledger repository.LedgerRepository,
	downloader Downloader,
	analyzer ContentAnalyzer,
	dest DestinationStore,
	folders FolderLocator,
	events EventPublisher,
	cfg CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	c := &Coordinator{
		ledger:     ledger,
		downloader: downloader,
		analyzer:   analyzer,
		dest:       dest,
		folders:    folders,
		events:     events,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "coordinator")),
		now:        func() time.Time { return time.Now().UTC() },
	}
	c.steps = map[status.Status]stepFunc{
		status.Downloading: c.download,
		status.Analyzing:   c.analyze,
		status.Uploading:   c.upload,
	}
	return c
}

// BatchSize возвращает размер пачки по умолчанию.
func (c *Coordinator) BatchSize() int {
	return c.cfg.BatchSize
}

// RunBatch обрабатывает до limit строк pending (limit <= 0 — размер пачки
// из конфигурации). Одновременно работает не больше MaxConcurrent воркеров.
//
// После отмены ctx новые строки не захватываются, а уже захваченные
// доводятся до completed или failed.
func (c *Coordinator) RunBatch(ctx context.Context, limit int) (model.BatchResult, error) {
	if limit <= 0 {
		limit = c.cfg.BatchSize
	}
	pending, err := c.ledger.ListPending(ctx, limit)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("чтение очереди pending: %w", err)
	}
	if len(pending) == 0 {
		return model.BatchResult{}, nil
	}

	var (
		mu  sync.Mutex
		res model.BatchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)

	for _, rec := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := c.process(gctx, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			res.Add(out.kind, rec.FileID, out.message)
			return nil
		})
	}
	err = g.Wait()

	c.logger.Info("Пачка обработана",
		slog.Int("claimed", res.Claimed),
		slog.Int("successful", res.Successful),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
	)
	return res, err
}

// --- Воркер ---

// job — состояние обработки одной строки воркером.
type job struct {
	rec      *model.FileRecord
	path     string
	tags     []model.Tag
	folderID string
	destID   string
}

// stepOutcome — исход шага: переход в next или failed с сообщением.
type stepOutcome struct {
	next    status.Status
	failMsg string
}

func advance(next status.Status) stepOutcome { return stepOutcome{next: next} }

func failWith(format string, args ...any) stepOutcome {
	return stepOutcome{next: status.Failed, failMsg: fmt.Sprintf(format, args...)}
}

// stepFunc выполняет работу одного состояния.
type stepFunc func(ctx context.Context, j *job) stepOutcome

// workerOutcome — итог обработки строки для BatchResult.
type workerOutcome struct {
	kind    model.FileOutcome
	message string
}

// process захватывает строку и проводит её до конечного состояния.
func (c *Coordinator) process(ctx context.Context, rec *model.FileRecord) (workerOutcome, error) {
	if ctx.Err() != nil {
		return workerOutcome{kind: model.OutcomeSkipped}, nil
	}
	logger := c.logger.With(slog.String("file_id", rec.FileID))

	claimed, err := c.ledger.Claim(ctx, rec.FileID)
	if err != nil {
		return workerOutcome{}, fmt.Errorf("захват файла %s: %w", rec.FileID, err)
	}
	if !claimed {
		logger.Debug("Файл захвачен другим воркером")
		return workerOutcome{kind: model.OutcomeSkipped}, nil
	}
	transitionsTotal.WithLabelValues(string(status.Downloading)).Inc()
	rec.AttemptCount++

	workersInFlight.Inc()
	defer workersInFlight.Dec()

	// Захваченная строка доводится до конечного состояния даже при остановке.
	wctx := context.WithoutCancel(ctx)

	j := &job{rec: rec}
	defer j.cleanup(logger)

	current := status.Downloading
	for {
		out := c.steps[current](wctx, j)

		if out.next == status.Failed {
			return c.fail(wctx, logger, j, current, out.failMsg)
		}

		if out.next == status.Completed {
			return c.complete(wctx, logger, j)
		}

		ok, err := c.ledger.Transition(wctx, rec.FileID, current, out.next)
		if err != nil {
			return workerOutcome{}, fmt.Errorf("переход %s → %s для файла %s: %w", current, out.next, rec.FileID, err)
		}
		if !ok {
			logger.Warn("Строка изменена вне воркера, обработка прекращена",
				slog.String("status", string(current)),
			)
			return workerOutcome{kind: model.OutcomeSkipped}, nil
		}
		transitionsTotal.WithLabelValues(string(out.next)).Inc()
		logger.Debug("Переход состояния", slog.String("status", string(out.next)))
		current = out.next
	}
}

// complete фиксирует успех одной записью в леджер.
func (c *Coordinator) complete(ctx context.Context, logger *slog.Logger, j *job) (workerOutcome, error) {
	ok, err := c.ledger.Complete(ctx, j.rec.FileID, model.Completion{
		DestinationID: j.destID,
		FolderID:      j.folderID,
		Tags:          j.tags,
	})
	if err != nil {
		return workerOutcome{}, fmt.Errorf("фиксация файла %s: %w", j.rec.FileID, err)
	}
	if !ok {
		logger.Warn("Фиксация не выполнена: строка уже не в uploading",
			slog.String("destination_id", j.destID),
		)
		return workerOutcome{kind: model.OutcomeSkipped}, nil
	}
	transitionsTotal.WithLabelValues(string(status.Completed)).Inc()
	logger.Info("Файл перенесён",
		slog.String("status", string(status.Completed)),
		slog.String("destination_id", j.destID),
		slog.Int("tags", len(j.tags)),
	)
	c.publish(ctx, logger, model.MigrationEvent{
		FileID:        j.rec.FileID,
		Status:        status.Completed,
		DestinationID: j.destID,
		FolderID:      j.folderID,
		TagsCount:     len(j.tags),
		Attempt:       j.rec.AttemptCount,
	})
	return workerOutcome{kind: model.OutcomeCompleted}, nil
}

// fail переводит строку из from в failed.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, j *job, from status.Status, msg string) (workerOutcome, error) {
	ok, err := c.ledger.Fail(ctx, j.rec.FileID, from, msg)
	if err != nil {
		return workerOutcome{}, fmt.Errorf("перевод файла %s в failed: %w", j.rec.FileID, err)
	}
	if !ok {
		logger.Warn("Перевод в failed не выполнен: строка изменена вне воркера",
			slog.String("status", string(from)),
		)
		return workerOutcome{kind: model.OutcomeSkipped}, nil
	}
	transitionsTotal.WithLabelValues(string(status.Failed)).Inc()
	logger.Warn("Миграция файла завершилась ошибкой",
		slog.String("status", string(from)),
		slog.String("error", msg),
	)
	c.publish(ctx, logger, model.MigrationEvent{
		FileID:  j.rec.FileID,
		Status:  status.Failed,
		Error:   msg,
		Attempt: j.rec.AttemptCount,
	})
	return workerOutcome{kind: model.OutcomeFailed, message: msg}, nil
}

// publish отправляет событие; ошибки только логируются.
func (c *Coordinator) publish(ctx context.Context, logger *slog.Logger, event model.MigrationEvent) {
	if c.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = c.now()
	if err := c.events.Publish(ctx, event); err != nil {
		logger.Warn("Ошибка публикации события", slog.String("error", err.Error()))
	}
}

// cleanup удаляет временный файл независимо от исхода.
func (j *job) cleanup(logger *slog.Logger) {
	if j.path == "" {
		return
	}
	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Не удалось удалить временный файл",
			slog.String("path", j.path),
			slog.String("error", err.Error()),
		)
	}
}

// --- Шаги ---

// download загружает байты источника во временный файл.
func (c *Coordinator) download(ctx context.Context, j *job) stepOutcome {
	defer observeStep("download", time.Now())

	f, err := os.CreateTemp(c.cfg.DownloadDir, "mg-*.part")
	if err != nil {
		return failWith("создание временного файла: %v", err)
	}
	j.path = f.Name()

	stepCtx, cancel := withTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	n, err := c.downloader.Download(stepCtx, j.rec.FileID, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return failWith("загрузка из источника: %v", err)
	}
	if j.rec.Size > 0 && n != j.rec.Size {
		c.logger.Debug("Размер загруженного файла отличается от заявленного",
			slog.String("file_id", j.rec.FileID),
			slog.Int64("expected", j.rec.Size),
			slog.Int64("actual", n),
		)
	}
	return advance(status.Analyzing)
}

// analyze строит теги. Ошибка анализа не прерывает миграцию.
func (c *Coordinator) analyze(ctx context.Context, j *job) stepOutcome {
	kind := model.KindOf(j.rec.FileType)
	if !c.cfg.AnalysisEnabled || c.analyzer == nil || kind == model.KindOther {
		return advance(status.Uploading)
	}
	defer observeStep("analyze", time.Now())

	stepCtx, cancel := withTimeout(ctx, c.cfg.AnalyzeTimeout)
	defer cancel()

	tags, err := c.analyzer.Analyze(stepCtx, j.path, kind)
	if err != nil {
		c.logger.Warn("Ошибка анализа содержимого, теги не сохранены",
			slog.String("file_id", j.rec.FileID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return advance(status.Uploading)
	}
	j.tags = tags
	return advance(status.Uploading)
}

// upload определяет папку и передаёт файл в хранилище назначения.
func (c *Coordinator) upload(ctx context.Context, j *job) stepOutcome {
	defer observeStep("upload", time.Now())

	stepCtx, cancel := withTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	folderID, err := c.folders.Resolve(stepCtx, j.rec.ChannelID, j.rec.UserID)
	if err != nil {
		return failWith("определение папки назначения: %v", err)
	}
	j.folderID = folderID

	env := model.MetadataEnvelope{
		OriginalName: j.rec.FileName,
		Description:  model.DescribeTags(j.tags, j.rec.FileType),
		SourceFileID: j.rec.FileID,
		ChannelID:    j.rec.ChannelID,
		UserID:       j.rec.UserID,
		UploadedAt:   j.rec.SourceCreatedAt,
	}
	destID, err := c.dest.Upload(stepCtx, j.path, j.rec.FileName, folderID, env)
	if err != nil {
		return failWith("загрузка в хранилище: %v", err)
	}
	if destID == "" {
		return failWith("хранилище вернуло пустой идентификатор")
	}
	j.destID = destID
	return advance(status.Completed)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func observeStep(step string, started time.Time) {
	stepDuration.WithLabelValues(step).Observe(time.Since(started).Seconds())
}
