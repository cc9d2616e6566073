// Пакет repository — слой доступа к леджеру миграции.
// PostgreSQL-реализация — чистый SQL через pgx, без ORM.
// Memory-реализация повторяет семантику условных переходов
// и используется в dev-режиме и в тестах сервисного слоя.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — набор репозиториев одного бэкенда.
type Store struct {
	Ledger    LedgerRepository
	Directory DirectoryRepository
	Folders   FolderMappingRepository
	Runs      MigrationRunRepository
}

// NewPostgresStore создаёт набор репозиториев поверх PostgreSQL.
func NewPostgresStore(db DBTX) *Store {
	return &Store{
		Ledger:    NewLedgerRepository(db),
		Directory: NewDirectoryRepository(db),
		Folders:   NewFolderMappingRepository(db),
		Runs:      NewMigrationRunRepository(db),
	}
}

// NewMemoryStore создаёт набор репозиториев в памяти процесса.
// Состояние не переживает перезапуск.
func NewMemoryStore() *Store {
	return &Store{
		Ledger:    NewMemoryLedger(),
		Directory: NewMemoryDirectory(),
		Folders:   NewMemoryFolderMappings(),
		Runs:      NewMemoryRuns(),
	}
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isCheckViolation проверяет нарушение CHECK-ограничения (инварианты леджера).
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514" // check_violation
	}
	return false
}
