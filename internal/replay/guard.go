// Пакет replay — защита webhook от повторной доставки событий.
//
// Guard запоминает ключ запроса (timestamp и подпись) на время окна
// допустимого расхождения; повтор с тем же ключом отбрасывается до
// обращения к леджеру.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Guard отмечает ключ запроса как обработанный.
// First возвращает true, если ключ встречен впервые.
// Forget снимает отметку, чтобы повторная доставка после
// неуспешной обработки была принята заново.
type Guard interface {
	First(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

const keyPrefix = "archive-migrator:webhook:"

// keyStore — часть redis.Cmdable, используемая RedisGuard.
type keyStore interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard хранит ключи в Redis; защита общая для всех
// экземпляров сервиса.
type RedisGuard struct {
	client keyStore
	ttl    time.Duration
}

// NewRedisGuard создаёт защиту поверх клиента Redis.
func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// First реализует Guard.
func (g *RedisGuard) First(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("проверка повтора запроса %s: %w", key, err)
	}
	return ok, nil
}

// Forget реализует Guard.
func (g *RedisGuard) Forget(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("снятие отметки запроса %s: %w", key, err)
	}
	return nil
}

// MemoryGuard хранит ключи в памяти процесса.
type MemoryGuard struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewMemoryGuard создаёт защиту на size последних ключей.
func NewMemoryGuard(size int, ttl time.Duration) *MemoryGuard {
	if size <= 0 {
		size = 10000
	}
	return &MemoryGuard{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// First реализует Guard.
func (g *MemoryGuard) First(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen.Contains(key) {
		return false, nil
	}
	g.seen.Add(key, struct{}{})
	return true, nil
}

// Forget реализует Guard.
func (g *MemoryGuard) Forget(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen.Remove(key)
	return nil
}
