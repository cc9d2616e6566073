package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bigkaa/archive-migrator/internal/domain/status"
)

// waitForStatus ждёт, пока строка перейдёт в want.
func waitForStatus(t *testing.T, p *pipeline, fileID string, want status.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := p.ledger.Get(context.Background(), fileID)
		if err == nil && rec.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := p.ledger.Get(context.Background(), fileID)
	t.Fatalf("%s: хотели %s, получили %s", fileID, want, rec.Status)
}

// TestScheduler_Tick — планировщик обрабатывает очередь по таймеру.
func TestScheduler_Tick(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, p, _ := newTestMigrations(t, defaultCoordinatorConfig())
	s := NewScheduler(m, SchedulerConfig{Interval: 10 * time.Millisecond}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	p.ingest(t, descriptor("F1", "pdf", 10))
	waitForStatus(t, p, "F1", status.Completed)
}

// TestScheduler_Trigger — внеочередной прогон не ждёт тика.
func TestScheduler_Trigger(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, p, runs := newTestMigrations(t, defaultCoordinatorConfig())
	s := NewScheduler(m, SchedulerConfig{Interval: time.Hour}, testLogger())
	s.Start(context.Background())

	p.ingest(t, descriptor("F1", "pdf", 10))
	s.Trigger()
	s.Trigger()
	waitForStatus(t, p, "F1", status.Completed)
	s.Stop()
	s.Stop()

	recent, _ := runs.ListRecent(context.Background(), 10)
	if len(recent) == 0 || recent[0].Trigger != "realtime" {
		t.Errorf("хотели прогон с trigger=realtime, получили %+v", recent)
	}
}

// TestScheduler_RecoversStalledOnStart — при старте брошенные строки уходят в failed.
func TestScheduler_RecoversStalledOnStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, p, _ := newTestMigrations(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "pdf", 10))
	if ok, err := p.ledger.Claim(context.Background(), "F1"); err != nil || !ok {
		t.Fatalf("Claim: %v/%v", ok, err)
	}
	time.Sleep(5 * time.Millisecond)

	s := NewScheduler(m, SchedulerConfig{Interval: time.Hour, StalledAfter: time.Millisecond}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	waitForStatus(t, p, "F1", status.Failed)
}

// TestScheduler_AutoRetry — failed-строка повторяется на следующем тике.
func TestScheduler_AutoRetry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, p, _ := newTestMigrations(t, defaultCoordinatorConfig())
	p.ingest(t, descriptor("F1", "pdf", 10))
	if ok, _ := p.ledger.Claim(context.Background(), "F1"); !ok {
		t.Fatal("Claim не выполнен")
	}
	if _, err := p.ledger.Fail(context.Background(), "F1", status.Downloading, "timeout"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	s := NewScheduler(m, SchedulerConfig{
		Interval:      10 * time.Millisecond,
		AutoRetry:     true,
		RetryAttempts: 3,
	}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	waitForStatus(t, p, "F1", status.Completed)
}
