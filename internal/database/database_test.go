package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/archive-migrator/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("migrator_test"),
		postgres.WithUsername("migrator"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("MG_DB_HOST", host)
	t.Setenv("MG_DB_PORT", port.Port())
	t.Setenv("MG_DB_NAME", "migrator_test")
	t.Setenv("MG_DB_USER", "migrator")
	t.Setenv("MG_DB_PASSWORD", "test-password")
	t.Setenv("MG_DB_SSL_MODE", "disable")
	t.Setenv("MG_SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("MG_GOOGLE_DRIVE_FOLDER_ID", "root-folder")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if got := pool.Config().MaxConns; got < int32(cfg.MaxConcurrent+4) {
		t.Errorf("MaxConns: хотели не меньше %d, получили %d", cfg.MaxConcurrent+4, got)
	}

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady: хотели ok, получили %s (%s)", status, msg)
	}
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{
		"migration_files",
		"slack_channels",
		"slack_users",
		"folder_mappings",
		"migration_runs",
	}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)",
			table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана миграцией", table)
		}
	}

	// completed без destination_id запрещён на уровне схемы
	_, err = pool.Exec(ctx, `
		INSERT INTO migration_files (file_id, channel_id, user_id, file_name, file_type, size_bytes, source_created_at, status, origin)
		VALUES ('F-bad', 'C1', 'U1', 'x.png', 'png', 1, now(), 'completed', 'catalog')`)
	if err == nil {
		t.Error("ожидалось нарушение CHECK для completed без destination_id")
	}
}

// TestMemoryChecker проверяет готовность dev-леджера.
func TestMemoryChecker(t *testing.T) {
	status, _ := MemoryChecker{}.CheckReady()
	if status != "ok" {
		t.Errorf("хотели ok, получили %s", status)
	}
}
