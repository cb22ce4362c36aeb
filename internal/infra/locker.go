package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"esign-trust-service/internal/domain"
)

// MemoryLocker はプロセス内のキー単位ロック。単一インスタンス構成で使う。
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker は新しいMemoryLockerを生成する。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot)}
}

// Lock はキーのロックを取得する。ctx がキャンセルされたら待機をやめる。
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, fmt.Errorf("%w: %v", domain.ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, slot, true) })
	}, nil
}

func (l *MemoryLocker) release(key string, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker はRedisの SET NX PX による分散ロック。複数インスタンス構成で使う。
// TTL はロック保持者が落ちた場合の解放までの時間。
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker は新しいRedisLockerを生成する。
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: "esign-trust:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
}

// Lock はキーのロックを取得するまで retry 間隔で再試行する。
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrLockNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", domain.ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 呼び出し元がキャンセル済みでも解放できるよう独立したコンテキストを使う
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.WarnContext(ctx, "failed to release lock",
					"operation", "redis_unlock",
					"key", key,
					"error", err,
				)
			}
		})
	}, nil
}
