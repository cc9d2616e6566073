package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// pipeline — собранный конвейер над леджером в памяти.
type pipeline struct {
	ledger     repository.LedgerRepository
	reconciler *Reconciler
	downloader *fakeDownloader
	analyzer   *fakeAnalyzer
	dest       *fakeDestination
	events     *recordingPublisher
	coord      *Coordinator
}

func newPipeline(t *testing.T, cfg CoordinatorConfig) *pipeline {
	t.Helper()
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = t.TempDir()
	}
	p := &pipeline{
		ledger:     repository.NewMemoryLedger(),
		downloader: &fakeDownloader{},
		analyzer:   &fakeAnalyzer{},
		dest:       newFakeDestination(),
		events:     &recordingPublisher{},
	}
	p.reconciler = NewReconciler(p.ledger, IngestPolicy{
		AllowedTypes: []string{"png", "jpg", "mp4", "pdf"},
		MaxSizeBytes: 100 * 1024 * 1024,
	}, testLogger())
	p.coord = NewCoordinator(p.ledger, p.downloader, p.analyzer, p.dest,
		staticFolders{id: "folder-C1-U1"}, p.events, cfg, testLogger())
	return p
}

func (p *pipeline) ingest(t *testing.T, d model.FileDescriptor) {
	t.Helper()
	res, err := p.reconciler.Ingest(context.Background(), d)
	if err != nil {
		t.Fatalf("Ingest(%s): %v", d.FileID, err)
	}
	if res.Outcome != IngestAccepted {
		t.Fatalf("Ingest(%s): хотели accepted, получили %s (%s)", d.FileID, res.Outcome, res.Reason)
	}
}

func (p *pipeline) record(t *testing.T, id string) *model.FileRecord {
	t.Helper()
	rec, err := p.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return rec
}

func defaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BatchSize:       10,
		MaxConcurrent:   1,
		DownloadTimeout: time.Second,
		AnalyzeTimeout:  time.Second,
		UploadTimeout:   time.Second,
		AnalysisEnabled: true,
	}
}

// TestRunBatch_ImageCompleted — png проходит весь конвейер с тегами.
func TestRunBatch_ImageCompleted(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newPipeline(t, defaultCoordinatorConfig())
	p.analyzer.tags = []model.Tag{{Kind: model.TagLabel, Description: "cat", Confidence: 0.9, Source: model.SourceVision}}
	p.dest.destID = func(string) string { return "D1" }
	p.ingest(t, descriptor("F1", "png", 10*1024))

	res, err := p.coord.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.Claimed != 1 || res.Successful != 1 || res.Failed != 0 {
		t.Errorf("итог: хотели 1/1/0, получили %d/%d/%d", res.Claimed, res.Successful, res.Failed)
	}

	rec := p.record(t, "F1")
	if rec.Status != status.Completed {
		t.Fatalf("состояние: хотели completed, получили %s", rec.Status)
	}
	if rec.DestinationID == nil || *rec.DestinationID != "D1" {
		t.Errorf("destination: хотели D1, получили %v", rec.DestinationID)
	}
	if rec.ErrorMessage != nil {
		t.Errorf("error_message должен быть пуст, получено %q", *rec.ErrorMessage)
	}
	if len(rec.Tags) != 1 || rec.Tags[0].Kind != model.TagLabel || rec.Tags[0].Description != "cat" || rec.Tags[0].Confidence != 0.9 {
		t.Errorf("теги: хотели [{label cat 0.9}], получили %+v", rec.Tags)
	}
	if rec.FolderID == nil || *rec.FolderID != "folder-C1-U1" {
		t.Errorf("folder: хотели folder-C1-U1, получили %v", rec.FolderID)
	}
	if rec.AttemptCount != 1 {
		t.Errorf("attempt_count: хотели 1, получили %d", rec.AttemptCount)
	}

	if len(p.dest.uploads) != 1 {
		t.Fatalf("хотели 1 загрузку, получили %d", len(p.dest.uploads))
	}
	up := p.dest.uploads[0]
	if up.env.Description != "Contains: cat" {
		t.Errorf("описание: хотели %q, получили %q", "Contains: cat", up.env.Description)
	}
	if up.name != "F1.png" || up.folderID != "folder-C1-U1" || up.content != "bytes of F1" {
		t.Errorf("загрузка: получили %+v", up)
	}
	if p.analyzer.kinds[0] != model.KindImage {
		t.Errorf("анализатор вызван с %s, хотели image", p.analyzer.kinds[0])
	}

	for _, path := range p.downloader.tempPaths() {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("временный файл %s не удалён", path)
		}
	}

	events := p.events.snapshot()
	if len(events) != 1 || events[0].Status != status.Completed || events[0].DestinationID != "D1" || events[0].TagsCount != 1 {
		t.Errorf("события: получили %+v", events)
	}
	if events[0].ID == "" || events[0].OccurredAt.IsZero() {
		t.Error("у события должны быть id и время")
	}
}

// TestRunBatch_DownloadTimeout — таймаут загрузки переводит файл в failed.
func TestRunBatch_DownloadTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := defaultCoordinatorConfig()
	cfg.DownloadTimeout = 20 * time.Millisecond
	p := newPipeline(t, cfg)
	p.downloader.fn = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	p.ingest(t, descriptor("F2", "mp4", 50*1024*1024))

	res, err := p.coord.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.Failed != 1 || len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "F2: ") {
		t.Errorf("итог: получили %+v", res)
	}

	rec := p.record(t, "F2")
	if rec.Status != status.Failed {
		t.Fatalf("состояние: хотели failed, получили %s", rec.Status)
	}
	if rec.ErrorMessage == nil || !strings.Contains(*rec.ErrorMessage, "deadline exceeded") {
		t.Errorf("error_message: получили %v", rec.ErrorMessage)
	}
	if rec.DestinationID != nil {
		t.Errorf("destination должен быть пуст, получено %q", *rec.DestinationID)
	}
	if len(p.dest.uploads) != 0 {
		t.Error("загрузка в хранилище не должна вызываться")
	}
	for _, path := range p.downloader.tempPaths() {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("частично загруженный файл %s не удалён", path)
		}
	}

	events := p.events.snapshot()
	if len(events) != 1 || events[0].Status != status.Failed || events[0].Error == "" {
		t.Errorf("события: получили %+v", events)
	}
}

// TestRunBatch_AnalysisIsBestEffort — ошибка анализа не мешает миграции.
func TestRunBatch_AnalysisIsBestEffort(t *testing.T) {
	p := newPipeline(t, defaultCoordinatorConfig())
	p.analyzer.err = errors.New("vision: quota exceeded")
	p.ingest(t, descriptor("F1", "jpg", 1024))

	if _, err := p.coord.RunBatch(context.Background(), 0); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	rec := p.record(t, "F1")
	if rec.Status != status.Completed {
		t.Fatalf("состояние: хотели completed, получили %s", rec.Status)
	}
	if len(rec.Tags) != 0 {
		t.Errorf("теги должны быть пустыми, получили %+v", rec.Tags)
	}
	if got := p.dest.uploads[0].env.Description; got != "Uploaded jpg file" {
		t.Errorf("описание: хотели %q, получили %q", "Uploaded jpg file", got)
	}
}

// TestRunBatch_SkipsAnalysis — анализ пропускается для прочих типов
// и при выключенном анализе.
func TestRunBatch_SkipsAnalysis(t *testing.T) {
	tests := []struct {
		name     string
		fileType string
		enabled  bool
	}{
		{name: "документ", fileType: "pdf", enabled: true},
		{name: "анализ выключен", fileType: "png", enabled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultCoordinatorConfig()
			cfg.AnalysisEnabled = tt.enabled
			p := newPipeline(t, cfg)
			p.ingest(t, descriptor("F1", tt.fileType, 1024))

			if _, err := p.coord.RunBatch(context.Background(), 0); err != nil {
				t.Fatalf("RunBatch: %v", err)
			}
			if p.analyzer.calls != 0 {
				t.Errorf("анализатор вызван %d раз", p.analyzer.calls)
			}
			if rec := p.record(t, "F1"); rec.Status != status.Completed {
				t.Errorf("состояние: хотели completed, получили %s", rec.Status)
			}
		})
	}
}

// TestRunBatch_UploadFailures — ошибки шага uploading.
func TestRunBatch_UploadFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *pipeline)
		wantMsg string
	}{
		{
			name:    "хранилище отклонило загрузку",
			setup:   func(p *pipeline) { p.dest.err = errors.New("storageQuotaExceeded") },
			wantMsg: "storageQuotaExceeded",
		},
		{
			name:    "пустой идентификатор назначения",
			setup:   func(p *pipeline) { p.dest.destID = func(string) string { return "" } },
			wantMsg: "пустой идентификатор",
		},
		{
			name: "папка не определена",
			setup: func(p *pipeline) {
				p.coord.folders = staticFolders{err: errors.New("drive недоступен")}
			},
			wantMsg: "drive недоступен",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, defaultCoordinatorConfig())
			tt.setup(p)
			p.ingest(t, descriptor("F1", "png", 1024))

			if _, err := p.coord.RunBatch(context.Background(), 0); err != nil {
				t.Fatalf("RunBatch: %v", err)
			}
			rec := p.record(t, "F1")
			if rec.Status != status.Failed {
				t.Fatalf("состояние: хотели failed, получили %s", rec.Status)
			}
			if rec.ErrorMessage == nil || !strings.Contains(*rec.ErrorMessage, tt.wantMsg) {
				t.Errorf("error_message: хотели содержащий %q, получили %v", tt.wantMsg, rec.ErrorMessage)
			}
			if rec.DestinationID != nil {
				t.Error("destination должен быть пуст")
			}
		})
	}
}

// TestRunBatch_ConcurrencyBound — воркеров не больше MaxConcurrent.
func TestRunBatch_ConcurrencyBound(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const limit = 3
	cfg := defaultCoordinatorConfig()
	cfg.MaxConcurrent = limit
	cfg.BatchSize = 20
	p := newPipeline(t, cfg)

	var current, peak atomic.Int32
	p.downloader.fn = func(context.Context, string) error {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	for i := range 12 {
		p.ingest(t, descriptor(fmt.Sprintf("F%02d", i), "pdf", 1024))
	}

	res, err := p.coord.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.Successful != 12 {
		t.Errorf("хотели 12 успешных, получили %d", res.Successful)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("одновременно работало %d воркеров, лимит %d", got, limit)
	}
}

// TestRunBatch_RespectsLimit — пачка берёт не больше limit строк в порядке регистрации.
func TestRunBatch_RespectsLimit(t *testing.T) {
	p := newPipeline(t, defaultCoordinatorConfig())
	for _, id := range []string{"F3", "F1", "F2"} {
		p.ingest(t, descriptor(id, "pdf", 1024))
	}

	res, err := p.coord.RunBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.Claimed != 2 {
		t.Errorf("хотели 2 захваченные строки, получили %d", res.Claimed)
	}
	if rec := p.record(t, "F2"); rec.Status != status.Pending {
		t.Errorf("F2 зарегистрирован последним и должен остаться pending, получили %s", rec.Status)
	}
}

// TestRunBatch_LedgerErrorAborts — ошибка леджера прерывает пачку.
func TestRunBatch_LedgerErrorAborts(t *testing.T) {
	p := newPipeline(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "png", 1024))
	p.coord.ledger = brokenLedger{LedgerRepository: p.ledger}

	_, err := p.coord.RunBatch(context.Background(), 0)
	if !errors.Is(err, errLedgerDown) {
		t.Errorf("хотели errLedgerDown, получили %v", err)
	}
}

// TestRunBatch_ShutdownFinishesInFlight — остановка не бросает захваченную строку.
func TestRunBatch_ShutdownFinishesInFlight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newPipeline(t, defaultCoordinatorConfig())
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p.downloader.fn = func(ctx context.Context, _ string) error {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, id := range []string{"F1", "F2", "F3"} {
		p.ingest(t, descriptor(id, "pdf", 1024))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.coord.RunBatch(ctx, 0)
		done <- err
	}()

	<-started
	cancel()
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunBatch не завершился после остановки")
	}

	if rec := p.record(t, "F1"); rec.Status != status.Completed {
		t.Errorf("F1 был в работе и должен завершиться, получили %s", rec.Status)
	}
	for _, id := range []string{"F2", "F3"} {
		if rec := p.record(t, id); rec.Status != status.Pending {
			t.Errorf("%s не должен захватываться после остановки, получили %s", id, rec.Status)
		}
	}
}

// TestRunBatch_ConcurrentBatchesMigrateOnce — параллельные прогоны
// не обрабатывают один файл дважды.
func TestRunBatch_ConcurrentBatchesMigrateOnce(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	cfg.MaxConcurrent = 4
	p := newPipeline(t, cfg)
	p.downloader.fn = func(context.Context, string) error {
		time.Sleep(time.Millisecond)
		return nil
	}
	for i := range 10 {
		p.ingest(t, descriptor(fmt.Sprintf("F%d", i), "pdf", 1024))
	}
	second := NewCoordinator(p.ledger, p.downloader, nil, p.dest, staticFolders{id: "root"}, nil, cfg, testLogger())

	var wg sync.WaitGroup
	results := make([]model.BatchResult, 2)
	for i, c := range []*Coordinator{p.coord, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.RunBatch(context.Background(), 10)
			if err != nil {
				t.Errorf("RunBatch: %v", err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if got := results[0].Successful + results[1].Successful; got != 10 {
		t.Errorf("хотели 10 успешных на два прогона, получили %d", got)
	}
	for i := range 10 {
		id := fmt.Sprintf("F%d", i)
		if n := p.downloader.callsFor(id); n != 1 {
			t.Errorf("%s загружен %d раз", id, n)
		}
	}
}

// TestRetryConvergence — failed после повтора доходит до completed.
func TestRetryConvergence(t *testing.T) {
	p := newPipeline(t, defaultCoordinatorConfig())
	var fail atomic.Bool
	fail.Store(true)
	p.downloader.fn = func(context.Context, string) error {
		if fail.Load() {
			return errors.New("connection reset by peer")
		}
		return nil
	}
	p.ingest(t, descriptor("F1", "pdf", 1024))
	migrations := NewMigrationService(p.ledger, repository.NewMemoryRuns(), p.coord, testLogger())
	ctx := context.Background()

	if _, err := p.coord.RunBatch(ctx, 0); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if rec := p.record(t, "F1"); rec.Status != status.Failed {
		t.Fatalf("после первой попытки: хотели failed, получили %s", rec.Status)
	}

	fail.Store(false)
	if err := migrations.Retry(ctx, "F1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if _, err := p.coord.RunBatch(ctx, 0); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	rec := p.record(t, "F1")
	if rec.Status != status.Completed || rec.ErrorMessage != nil {
		t.Errorf("после повтора: хотели completed без ошибки, получили %s/%v", rec.Status, rec.ErrorMessage)
	}
	if rec.AttemptCount != 2 {
		t.Errorf("attempt_count: хотели 2, получили %d", rec.AttemptCount)
	}
}
