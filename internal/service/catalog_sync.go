// catalog_sync.go — каталожный проход по истории источника.
//
// Descriptors отдаёт ленивую последовательность дескрипторов: страницы
// files.list запрашиваются по мере потребления, каталог целиком в памяти
// не держится. Каждый вызов Descriptors начинает обход с первой страницы.
//
// Sync передаёт каждый дескриптор в Reconciler, SyncDirectory заполняет
// справочники каналов и пользователей для именования папок.
package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// CatalogSource — постраничный список файлов источника. Страницы с 1.
type CatalogSource interface {
	ListFiles(ctx context.Context, page int) ([]model.FileDescriptor, bool, error)
}

// DirectorySource — постраничные списки каналов и пользователей.
// Пустой курсор в ответе означает последнюю страницу.
type DirectorySource interface {
	ListChannels(ctx context.Context, cursor string) ([]model.Channel, string, error)
	ListUsers(ctx context.Context, cursor string) ([]model.User, string, error)
}

// CatalogResult — итог каталожного прохода.
type CatalogResult struct {
	Seen      int `json:"seen"`
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
}

// CatalogSync — каталожный проход.
type CatalogSync struct {
	source     CatalogSource
	dirSource  DirectorySource
	reconciler *Reconciler
	directory  repository.DirectoryRepository
	logger     *slog.Logger
}

// NewCatalogSync создаёт каталожный проход. dirSource может быть nil.
func NewCatalogSync(
	source CatalogSource,
	dirSource DirectorySource,
	reconciler *Reconciler,
	directory repository.DirectoryRepository,
	logger *slog.Logger,
) *CatalogSync {
	return &CatalogSync{
		source:     source,
		dirSource:  dirSource,
		reconciler: reconciler,
		directory:  directory,
		logger:     logger.With(slog.String("component", "catalog_sync")),
	}
}

// Descriptors возвращает последовательность дескрипторов каталога.
// Ошибка страницы отдаётся последним элементом, после неё обход завершается.
// Отмена ctx отдаётся как ошибка, совместимая с errors.Is(err, ctx.Err()).
func (s *CatalogSync) Descriptors(ctx context.Context) iter.Seq2[model.FileDescriptor, error] {
	return func(yield func(model.FileDescriptor, error) bool) {
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(model.FileDescriptor{}, fmt.Errorf("обход прерван на странице %d: %w", page, err))
				return
			}
			files, hasMore, err := s.source.ListFiles(ctx, page)
			if err != nil {
				yield(model.FileDescriptor{}, fmt.Errorf("%w: страница %d: %w", ErrSourceUnavailable, page, err))
				return
			}
			for _, f := range files {
				if f.Origin == "" {
					f.Origin = model.OriginCatalog
				}
				if !yield(f, nil) {
					return
				}
			}
			if !hasMore {
				return
			}
		}
	}
}

// Sync регистрирует все файлы каталога.
// Ошибка источника оборачивает ErrSourceUnavailable; остальные ошибки
// означают недоступность леджера.
func (s *CatalogSync) Sync(ctx context.Context) (CatalogResult, error) {
	started := time.Now()
	var res CatalogResult

	s.logger.Info("Каталожный проход запущен")
	for d, err := range s.Descriptors(ctx) {
		if err != nil {
			return res, err
		}
		res.Seen++
		out, err := s.reconciler.Ingest(ctx, d)
		if err != nil {
			return res, err
		}
		switch out.Outcome {
		case IngestAccepted:
			res.Accepted++
		case IngestDuplicate:
			res.Duplicate++
		case IngestRejected:
			res.Rejected++
		}
	}

	s.logger.Info("Каталожный проход завершён",
		slog.Int("seen", res.Seen),
		slog.Int("accepted", res.Accepted),
		slog.Int("duplicate", res.Duplicate),
		slog.Int("rejected", res.Rejected),
		slog.Duration("duration", time.Since(started)),
	)
	return res, nil
}

// SyncDirectory заполняет справочники каналов и пользователей.
// Ошибки источника логируются, ошибка возвращается только от леджера.
func (s *CatalogSync) SyncDirectory(ctx context.Context) error {
	if s.dirSource == nil {
		return nil
	}

	channels, err := collectPages(ctx, s.dirSource.ListChannels)
	if err != nil {
		s.logger.Warn("Ошибка получения списка каналов", slog.String("error", err.Error()))
	}
	if len(channels) > 0 {
		if err := s.directory.UpsertChannels(ctx, channels); err != nil {
			return fmt.Errorf("сохранение каналов: %w", err)
		}
	}

	users, err := collectPages(ctx, s.dirSource.ListUsers)
	if err != nil {
		s.logger.Warn("Ошибка получения списка пользователей", slog.String("error", err.Error()))
	}
	if len(users) > 0 {
		if err := s.directory.UpsertUsers(ctx, users); err != nil {
			return fmt.Errorf("сохранение пользователей: %w", err)
		}
	}

	s.logger.Info("Справочники обновлены",
		slog.Int("channels", len(channels)),
		slog.Int("users", len(users)),
	)
	return nil
}

// collectPages обходит курсорный список до пустого курсора.
// При ошибке возвращает уже собранные элементы.
func collectPages[T any](ctx context.Context, list func(context.Context, string) ([]T, string, error)) ([]T, error) {
	var (
		all    []T
		cursor string
	)
	for {
		items, next, err := list(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}
