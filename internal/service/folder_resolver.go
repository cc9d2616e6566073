// folder_resolver.go — определение папки назначения для файла.
//
// Структура папок: <root>/Slack - <имя канала>/<имя автора>.
// Имена берутся из справочника (slack_channels, slack_users), при промахе
// из Slack API, в крайнем случае используется сам идентификатор.
// Файлы без канала попадают в "Slack - unassigned".
//
// Найденные идентификаторы папок хранятся в expirable LRU и в таблице
// folder_mappings. Одновременное создание одной папки несколькими
// воркерами схлопывается через singleflight.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

const (
	channelFolderPrefix = "Slack - "
	unassignedChannel   = "unassigned"
)

// NameLookup — получение имён каналов и пользователей из источника.
type NameLookup interface {
	ChannelInfo(ctx context.Context, channelID string) (*model.Channel, error)
	UserInfo(ctx context.Context, userID string) (*model.User, error)
}

// FolderCreator создаёт папку или возвращает существующую с тем же именем.
type FolderCreator interface {
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
}

// FolderResolverConfig — параметры FolderResolver.
type FolderResolverConfig struct {
	RootFolderID string
	CacheSize    int
	CacheTTL     time.Duration
}

// FolderResolver реализует FolderLocator поверх хранилища назначения.
type FolderResolver struct {
	root      string
	cache     *expirable.LRU[string, string]
	group     singleflight.Group
	mappings  repository.FolderMappingRepository
	directory repository.DirectoryRepository
	lookup    NameLookup
	creator   FolderCreator
	logger    *slog.Logger
}

// NewFolderResolver создаёт FolderResolver. lookup может быть nil.
func NewFolderResolver(
	cfg FolderResolverConfig,
	mappings repository.FolderMappingRepository,
	directory repository.DirectoryRepository,
	lookup NameLookup,
	creator FolderCreator,
	logger *slog.Logger,
) *FolderResolver {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	return &FolderResolver{
		root:      cfg.RootFolderID,
		cache:     expirable.NewLRU[string, string](size, nil, cfg.CacheTTL),
		mappings:  mappings,
		directory: directory,
		lookup:    lookup,
		creator:   creator,
		logger:    logger.With(slog.String("component", "folder_resolver")),
	}
}

// Resolve возвращает идентификатор папки для пары канал/автор.
// Без автора возвращается папка канала.
func (r *FolderResolver) Resolve(ctx context.Context, channelID, userID string) (string, error) {
	channelFolder, err := r.resolve(ctx, channelID, "", func(ctx context.Context) (string, string, error) {
		return channelFolderPrefix + r.channelName(ctx, channelID), r.root, nil
	})
	if err != nil {
		return "", err
	}
	if userID == "" {
		return channelFolder, nil
	}
	return r.resolve(ctx, channelID, userID, func(ctx context.Context) (string, string, error) {
		return r.userName(ctx, userID), channelFolder, nil
	})
}

// resolve ищет папку в кэше и в folder_mappings, иначе создаёт её.
// naming возвращает имя папки и идентификатор родителя.
func (r *FolderResolver) resolve(
	ctx context.Context,
	channelID, userID string,
	naming func(ctx context.Context) (name, parentID string, err error),
) (string, error) {
	key := channelID + "/" + userID
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		id, err := r.mappings.Get(ctx, channelID, userID)
		if err == nil {
			r.cache.Add(key, id)
			return id, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("чтение маппинга папки %s: %w", key, err)
		}

		name, parentID, err := naming(ctx)
		if err != nil {
			return "", err
		}
		created, err := r.creator.EnsureFolder(ctx, name, parentID)
		if err != nil {
			return "", fmt.Errorf("создание папки %q: %w", name, err)
		}
		stored, err := r.mappings.PutIfAbsent(ctx, channelID, userID, created)
		if err != nil {
			return "", fmt.Errorf("сохранение маппинга папки %s: %w", key, err)
		}
		r.cache.Add(key, stored)
		r.logger.Info("Папка назначения определена",
			slog.String("channel_id", channelID),
			slog.String("user_id", userID),
			slog.String("name", name),
			slog.String("folder_id", stored),
		)
		return stored, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// channelName возвращает имя канала для названия папки.
func (r *FolderResolver) channelName(ctx context.Context, channelID string) string {
	if channelID == "" {
		return unassignedChannel
	}
	if ch, err := r.directory.GetChannel(ctx, channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	if r.lookup != nil {
		ch, err := r.lookup.ChannelInfo(ctx, channelID)
		if err == nil && ch.Name != "" {
			if err := r.directory.UpsertChannels(ctx, []model.Channel{*ch}); err != nil {
				r.logger.Warn("Ошибка сохранения канала в справочник", slog.String("error", err.Error()))
			}
			return ch.Name
		}
		if err != nil {
			r.logger.Warn("Не удалось получить имя канала",
				slog.String("channel_id", channelID),
				slog.String("error", err.Error()),
			)
		}
	}
	return channelID
}

// userName возвращает имя автора для названия папки.
func (r *FolderResolver) userName(ctx context.Context, userID string) string {
	if u, err := r.directory.GetUser(ctx, userID); err == nil {
		if name := displayName(u); name != "" {
			return name
		}
	}
	if r.lookup != nil {
		u, err := r.lookup.UserInfo(ctx, userID)
		if err == nil {
			if err := r.directory.UpsertUsers(ctx, []model.User{*u}); err != nil {
				r.logger.Warn("Ошибка сохранения пользователя в справочник", slog.String("error", err.Error()))
			}
			if name := displayName(u); name != "" {
				return name
			}
		} else {
			r.logger.Warn("Не удалось получить имя пользователя",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return userID
}

func displayName(u *model.User) string {
	if u.RealName != "" {
		return u.RealName
	}
	return u.Name
}
