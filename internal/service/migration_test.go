package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

func newTestMigrations(t *testing.T, cfg CoordinatorConfig) (*MigrationService, *pipeline, repository.MigrationRunRepository) {
	t.Helper()
	p := newPipeline(t, cfg)
	runs := repository.NewMemoryRuns()
	return NewMigrationService(p.ledger, runs, p.coord, testLogger()), p, runs
}

// TestRetry_Errors проверяет отказы повтора.
func TestRetry_Errors(t *testing.T) {
	m, p, _ := newTestMigrations(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "pdf", 10))
	ctx := context.Background()

	if err := m.Retry(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий файл: хотели ErrNotFound, получили %v", err)
	}
	if err := m.Retry(ctx, "F1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending-файл: хотели ErrInvalidTransition, получили %v", err)
	}
	if _, err := m.GetFile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile: хотели ErrNotFound, получили %v", err)
	}
}

// TestRunOnce_RecordsRun — прогон записывается в историю.
func TestRunOnce_RecordsRun(t *testing.T) {
	m, p, runs := newTestMigrations(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "pdf", 10))
	ctx := context.Background()

	run, err := m.RunOnce(ctx, model.TriggerAPI, 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if run.ID == "" || run.FinishedAt == nil || run.Result.Successful != 1 {
		t.Errorf("прогон: %+v", run)
	}

	recent, _ := runs.ListRecent(ctx, 10)
	if len(recent) != 1 || recent[0].Trigger != model.TriggerAPI || recent[0].Result.Successful != 1 {
		t.Errorf("история: %+v", recent)
	}
}

// TestDrain — пачки выполняются до опустошения очереди.
func TestDrain(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	cfg.BatchSize = 2
	m, p, runs := newTestMigrations(t, cfg)
	for i := range 5 {
		p.ingest(t, descriptor(fmt.Sprintf("F%d", i), "pdf", 10))
	}
	ctx := context.Background()

	run, err := m.Drain(ctx, model.TriggerCLI, 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if run.Result.Successful != 5 {
		t.Errorf("хотели 5 успешных, получили %d", run.Result.Successful)
	}
	stats, _ := m.Stats(ctx)
	if stats.Completed != 5 || stats.ByStatus[status.Pending] != 0 {
		t.Errorf("статистика: %+v", stats)
	}
	recent, _ := runs.ListRecent(ctx, 10)
	if len(recent) != 1 {
		t.Errorf("Drain должен записать один прогон, записано %d", len(recent))
	}
}

// TestDrain_LedgerError — ошибка леджера прерывает прогон и попадает в историю.
func TestDrain_LedgerError(t *testing.T) {
	m, p, runs := newTestMigrations(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "pdf", 10))
	p.coord.ledger = brokenLedger{LedgerRepository: p.ledger}
	ctx := context.Background()

	if _, err := m.Drain(ctx, model.TriggerCLI, 0); !errors.Is(err, errLedgerDown) {
		t.Fatalf("хотели errLedgerDown, получили %v", err)
	}
	recent, _ := runs.ListRecent(ctx, 1)
	if len(recent) != 1 || recent[0].FinishedAt == nil || len(recent[0].Result.Errors) == 0 {
		t.Errorf("прерванный прогон записан неверно: %+v", recent)
	}
}

// TestRetryFailed_RespectsAttempts — автоповтор ограничен числом попыток.
func TestRetryFailed_RespectsAttempts(t *testing.T) {
	m, p, _ := newTestMigrations(t, defaultCoordinatorConfig())
	p.downloader.fn = func(context.Context, string) error { return errors.New("timeout") }
	p.ingest(t, descriptor("F1", "pdf", 10))
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := m.RunOnce(ctx, model.TriggerSchedule, 0); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		n, err := m.RetryFailed(ctx, 2)
		if err != nil {
			t.Fatalf("RetryFailed: %v", err)
		}
		wantRequeued := int64(0)
		if attempt < 2 {
			wantRequeued = 1
		}
		if n != wantRequeued {
			t.Errorf("попытка %d: хотели вернуть %d строк, вернули %d", attempt, wantRequeued, n)
		}
	}
	rec, _ := m.GetFile(ctx, "F1")
	if rec.Status != status.Failed || rec.AttemptCount != 2 {
		t.Errorf("хотели failed после 2 попыток, получили %s/%d", rec.Status, rec.AttemptCount)
	}
}

// TestRecoverStalled — строка, брошенная упавшим процессом, уходит в failed.
func TestRecoverStalled(t *testing.T) {
	m, p, _ := newTestMigrations(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "pdf", 10))
	ctx := context.Background()
	if ok, err := p.ledger.Claim(ctx, "F1"); err != nil || !ok {
		t.Fatalf("Claim: %v/%v", ok, err)
	}

	m.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := m.RecoverStalled(ctx, 30*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("RecoverStalled: %d/%v", n, err)
	}
	rec, _ := m.GetFile(ctx, "F1")
	if rec.Status != status.Failed || rec.ErrorMessage == nil || *rec.ErrorMessage != StalledMessage {
		t.Errorf("хотели failed с %q, получили %s/%v", StalledMessage, rec.Status, rec.ErrorMessage)
	}
}
