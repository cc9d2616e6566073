package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bigkaa/archive-migrator/internal/config"
	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/repository"
	"github.com/bigkaa/archive-migrator/internal/service"
)

// failingCatalog — источник, первая страница которого недоступна.
type failingCatalog struct {
	err error
}

func (c failingCatalog) ListFiles(context.Context, int) ([]model.FileDescriptor, bool, error) {
	return nil, false, c.err
}

// emptyRunner — очередь без pending-строк.
type emptyRunner struct {
	calls int
}

func (r *emptyRunner) RunBatch(context.Context, int) (model.BatchResult, error) {
	r.calls++
	return model.BatchResult{}, nil
}

func newTestPipeline(source service.CatalogSource) (*pipelineApp, *repository.Store, *emptyRunner) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	runner := &emptyRunner{}
	reconciler := service.NewReconciler(store.Ledger, service.IngestPolicy{AllowedTypes: []string{"png"}}, logger)
	app := &pipelineApp{
		ledgerApp: &ledgerApp{
			cfg:        &config.Config{BatchSize: 10},
			logger:     logger,
			store:      store,
			migrations: service.NewMigrationService(store.Ledger, store.Runs, runner, logger),
		},
		catalog: service.NewCatalogSync(source, nil, reconciler, store.Directory, logger),
	}
	return app, store, runner
}

// TestRunMigrate_Canceled — прерывание во время каталожного прохода
// завершает команду без ошибки и без прогона очереди.
func TestRunMigrate_Canceled(t *testing.T) {
	app, store, runner := newTestPipeline(failingCatalog{err: errors.New("не должен вызываться")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runMigrate(ctx, app); err != nil {
		t.Fatalf("хотели nil, получили %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("очередь не должна обрабатываться после отмены, вызовов %d", runner.calls)
	}
	runs, _ := store.Runs.ListRecent(context.Background(), 10)
	if len(runs) != 0 {
		t.Errorf("прогон не должен записываться, получили %d", len(runs))
	}
}

// TestRunMigrate_SourceUnavailable — ошибка источника не мешает переносу
// уже зарегистрированных файлов.
func TestRunMigrate_SourceUnavailable(t *testing.T) {
	app, store, runner := newTestPipeline(failingCatalog{err: errors.New("ratelimited")})

	if err := runMigrate(context.Background(), app); err != nil {
		t.Fatalf("хотели nil, получили %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("хотели один проход очереди, получили %d", runner.calls)
	}
	runs, _ := store.Runs.ListRecent(context.Background(), 10)
	if len(runs) != 1 || runs[0].Trigger != model.TriggerCLI {
		t.Errorf("хотели один прогон cli, получили %+v", runs)
	}
}
