package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// DirectoryRepository — кэш справочника источника (каналы и пользователи).
type DirectoryRepository interface {
	// UpsertChannels вставляет или обновляет каналы одним батчем.
	UpsertChannels(ctx context.Context, channels []model.Channel) error
	// UpsertUsers вставляет или обновляет пользователей одним батчем.
	UpsertUsers(ctx context.Context, users []model.User) error
	// GetChannel возвращает канал по ID или ErrNotFound.
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	// GetUser возвращает пользователя по ID или ErrNotFound.
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// directoryRepo — PostgreSQL-реализация DirectoryRepository.
type directoryRepo struct {
	db DBTX
}

// NewDirectoryRepository создаёт репозиторий справочника.
func NewDirectoryRepository(db DBTX) DirectoryRepository {
	return &directoryRepo{db: db}
}

// batcher — DBTX с поддержкой pgx.Batch (pool и tx).
type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *directoryRepo) UpsertChannels(ctx context.Context, channels []model.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	query := `
		INSERT INTO slack_channels (id, name, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`

	batch := &pgx.Batch{}
	for _, ch := range channels {
		batch.Queue(query, ch.ID, ch.Name)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("ошибка сохранения каналов: %w", err)
	}
	return nil
}

func (r *directoryRepo) UpsertUsers(ctx context.Context, users []model.User) error {
	if len(users) == 0 {
		return nil
	}
	query := `
		INSERT INTO slack_users (id, name, real_name, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, real_name = EXCLUDED.real_name, updated_at = now()`

	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(query, u.ID, u.Name, u.RealName)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("ошибка сохранения пользователей: %w", err)
	}
	return nil
}

// sendBatch отправляет батч, если DBTX это поддерживает, иначе
// выполняет запросы по одному.
func (r *directoryRepo) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if b, ok := r.db.(batcher); ok {
		return b.SendBatch(ctx, batch).Close()
	}
	for _, q := range batch.QueuedQueries {
		if _, err := r.db.Exec(ctx, q.SQL, q.Arguments...); err != nil {
			return err
		}
	}
	return nil
}

func (r *directoryRepo) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	ch := &model.Channel{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, updated_at FROM slack_channels WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.Name, &ch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения канала %s: %w", id, err)
	}
	return ch, nil
}

func (r *directoryRepo) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, real_name, updated_at FROM slack_users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.RealName, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя %s: %w", id, err)
	}
	return u, nil
}

// FolderMappingRepository — сохранённые папки назначения.
type FolderMappingRepository interface {
	// Get возвращает папку для пары канал/пользователь или ErrNotFound.
	// userID = "" — папка уровня канала.
	Get(ctx context.Context, channelID, userID string) (string, error)
	// PutIfAbsent сохраняет папку, если для пары её ещё нет,
	// и возвращает итоговое сохранённое значение.
	PutIfAbsent(ctx context.Context, channelID, userID, folderID string) (string, error)
}

// folderMappingRepo — PostgreSQL-реализация FolderMappingRepository.
type folderMappingRepo struct {
	db DBTX
}

// NewFolderMappingRepository создаёт репозиторий папок назначения.
func NewFolderMappingRepository(db DBTX) FolderMappingRepository {
	return &folderMappingRepo{db: db}
}

func (r *folderMappingRepo) Get(ctx context.Context, channelID, userID string) (string, error) {
	var folderID string
	err := r.db.QueryRow(ctx,
		`SELECT folder_id FROM folder_mappings WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	).Scan(&folderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения папки %s/%s: %w", channelID, userID, err)
	}
	return folderID, nil
}

func (r *folderMappingRepo) PutIfAbsent(ctx context.Context, channelID, userID, folderID string) (string, error) {
	var stored string
	err := r.db.QueryRow(ctx, `
		INSERT INTO folder_mappings (channel_id, user_id, folder_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id) DO NOTHING
		RETURNING folder_id`, channelID, userID, folderID,
	).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ошибка сохранения папки %s/%s: %w", channelID, userID, err)
	}
	// Параллельный воркер успел сохранить папку раньше
	return r.Get(ctx, channelID, userID)
}
