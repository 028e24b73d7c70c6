package line

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// dedupKeyPrefix は処理済みイベントIDのキー接頭辞。
	dedupKeyPrefix = "line:event:"
	// DefaultDedupTTL は処理済みイベントIDを保持する期間。
	// LINEの再送は最大で数時間以内に行われるため1日保持すれば十分。
	DefaultDedupTTL = 24 * time.Hour
)

// Deduper は再送されたWebhookイベントを検出する。
type Deduper interface {
	// MarkProcessed はイベントIDを処理済みとして記録する。初回の場合にtrueを返す。
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// NewRedisClient はRedis URLからクライアントを生成し、疎通を確認する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisDeduper はSETNXで処理済みイベントを記録する。複数インスタンス間で共有される。
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

// NewRedisDeduper はRedisDeduperを生成する。ttlが0以下の場合はDefaultDedupTTLを使う。
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// MarkProcessed はイベントIDをSETNXで記録する。
func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return ok, nil
}

// MemoryDeduper はプロセス内で処理済みイベントを記録する。REDIS_URL未設定時に使う。
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

var _ Deduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper はMemoryDeduperを生成する。
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduper{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// MarkProcessed はイベントIDを記録する。期限切れのエントリはこの時に掃除する。
func (d *MemoryDeduper) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = now.Add(d.ttl)
	return true, nil
}
