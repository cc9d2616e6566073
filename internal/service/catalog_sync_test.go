package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// pagedSource — каталог из фиксированных страниц.
type pagedSource struct {
	pages     [][]model.FileDescriptor
	failOn    int
	requested []int
}

func (s *pagedSource) ListFiles(_ context.Context, page int) ([]model.FileDescriptor, bool, error) {
	s.requested = append(s.requested, page)
	if page == s.failOn {
		return nil, false, errors.New("ratelimited")
	}
	if page > len(s.pages) {
		return nil, false, nil
	}
	return s.pages[page-1], page < len(s.pages), nil
}

func threePages() *pagedSource {
	return &pagedSource{pages: [][]model.FileDescriptor{
		{descriptor("F1", "png", 10), descriptor("F2", "exe", 10)},
		{descriptor("F3", "jpg", 10)},
		{descriptor("F1", "png", 10), descriptor("F4", "mp4", 10)},
	}}
}

func newTestCatalogSync(src CatalogSource, dir DirectorySource) (*CatalogSync, *repository.Store) {
	store := repository.NewMemoryStore()
	r := NewReconciler(store.Ledger, IngestPolicy{AllowedTypes: []string{"png", "jpg", "mp4"}}, testLogger())
	return NewCatalogSync(src, dir, r, store.Directory, testLogger()), store
}

// TestDescriptors_Lazy — страницы запрашиваются по мере потребления.
func TestDescriptors_Lazy(t *testing.T) {
	src := threePages()
	s, _ := newTestCatalogSync(src, nil)

	var got []string
	for d, err := range s.Descriptors(context.Background()) {
		if err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
		got = append(got, d.FileID)
		if len(got) == 3 {
			break
		}
	}
	if fmt.Sprint(got) != "[F1 F2 F3]" {
		t.Errorf("хотели [F1 F2 F3], получили %v", got)
	}
	if fmt.Sprint(src.requested) != "[1 2]" {
		t.Errorf("запрошены страницы %v, хотели [1 2]", src.requested)
	}

	// Повторный обход начинается с первой страницы
	src.requested = nil
	n := 0
	for range s.Descriptors(context.Background()) {
		n++
	}
	if n != 5 || fmt.Sprint(src.requested) != "[1 2 3]" {
		t.Errorf("повторный обход: %d элементов, страницы %v", n, src.requested)
	}
}

// TestDescriptors_SourceError — ошибка страницы завершает обход.
func TestDescriptors_SourceError(t *testing.T) {
	src := threePages()
	src.failOn = 2
	s, _ := newTestCatalogSync(src, nil)

	var (
		seen    int
		lastErr error
	)
	for _, err := range s.Descriptors(context.Background()) {
		if err != nil {
			lastErr = err
			continue
		}
		seen++
	}
	if seen != 2 {
		t.Errorf("хотели 2 дескриптора до ошибки, получили %d", seen)
	}
	if !errors.Is(lastErr, ErrSourceUnavailable) {
		t.Errorf("хотели ErrSourceUnavailable, получили %v", lastErr)
	}
}

// TestSync_Canceled — отмена ctx отличима от ошибки источника.
func TestSync_Canceled(t *testing.T) {
	src := threePages()
	s, store := newTestCatalogSync(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Sync(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("хотели context.Canceled, получили %v", err)
	}
	if errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("отмена не должна считаться ошибкой источника: %v", err)
	}
	if res.Seen != 0 || len(src.requested) != 0 {
		t.Errorf("после отмены не должно быть запросов: seen=%d, страницы %v", res.Seen, src.requested)
	}
	if stats, _ := store.Ledger.Stats(context.Background()); stats.Total != 0 {
		t.Errorf("леджер должен быть пуст, получили %d строк", stats.Total)
	}
}

// TestSync — каталожный проход регистрирует файлы через Reconciler.
func TestSync(t *testing.T) {
	s, store := newTestCatalogSync(threePages(), nil)

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := CatalogResult{Seen: 5, Accepted: 3, Duplicate: 1, Rejected: 1}
	if res != want {
		t.Errorf("хотели %+v, получили %+v", want, res)
	}

	stats, _ := store.Ledger.Stats(context.Background())
	if stats.Total != 3 {
		t.Errorf("в леджере хотели 3 строки, получили %d", stats.Total)
	}

	// Повторный проход ничего не добавляет
	res, err = s.Sync(context.Background())
	if err != nil || res.Accepted != 0 || res.Duplicate != 4 {
		t.Errorf("повторный проход: %+v, %v", res, err)
	}
}

// fakeDirectorySource — справочники с курсорным разбиением.
type fakeDirectorySource struct {
	channelsErr error
}

func (f fakeDirectorySource) ListChannels(_ context.Context, cursor string) ([]model.Channel, string, error) {
	if f.channelsErr != nil {
		return nil, "", f.channelsErr
	}
	if cursor == "" {
		return []model.Channel{{ID: "C1", Name: "general"}}, "next", nil
	}
	return []model.Channel{{ID: "C2", Name: "random"}}, "", nil
}

func (f fakeDirectorySource) ListUsers(_ context.Context, cursor string) ([]model.User, string, error) {
	return []model.User{{ID: "U1", Name: "alice", RealName: "Alice"}}, "", nil
}

// TestSyncDirectory — справочники заполняются по всем страницам.
func TestSyncDirectory(t *testing.T) {
	s, store := newTestCatalogSync(threePages(), fakeDirectorySource{})
	ctx := context.Background()

	if err := s.SyncDirectory(ctx); err != nil {
		t.Fatalf("SyncDirectory: %v", err)
	}
	for _, id := range []string{"C1", "C2"} {
		if _, err := store.Directory.GetChannel(ctx, id); err != nil {
			t.Errorf("канал %s не сохранён: %v", id, err)
		}
	}
	if u, err := store.Directory.GetUser(ctx, "U1"); err != nil || u.RealName != "Alice" {
		t.Errorf("пользователь U1: %+v, %v", u, err)
	}
}

// TestSyncDirectory_SourceErrorIsNotFatal — ошибка источника только логируется.
func TestSyncDirectory_SourceErrorIsNotFatal(t *testing.T) {
	s, store := newTestCatalogSync(threePages(), fakeDirectorySource{channelsErr: errors.New("missing_scope")})
	ctx := context.Background()

	if err := s.SyncDirectory(ctx); err != nil {
		t.Fatalf("SyncDirectory: %v", err)
	}
	if _, err := store.Directory.GetUser(ctx, "U1"); err != nil {
		t.Errorf("пользователи должны сохраниться: %v", err)
	}
}
