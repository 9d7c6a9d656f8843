package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wwwzy/PennyAgent/internal/agent"
)

// ErrNotFound 表示会话不存在（或已过期被清理）。
var ErrNotFound = errors.New("session not found")

// Record 为持久化的会话：Controller 快照加上元数据。
type Record struct {
	ID        string      `json:"id"`
	State     agent.State `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store 存储抽象；Get 在会话不存在时返回 nil, nil。
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	// DeleteIdle 删除 UpdatedAt 早于 before 的会话，返回删除的 ID。
	DeleteIdle(ctx context.Context, before time.Time) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore 内存实现（map + mutex）
type MemoryStore struct {
	mu   sync.RWMutex
	sess map[string][]byte
	meta map[string]time.Time
}

// NewMemoryStore 创建内存 Session 存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sess: make(map[string][]byte),
		meta: make(map[string]time.Time),
	}
}

// Get 实现 Store；返回的 Record 是副本，修改后需 Put 回来才生效
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	raw, ok := m.sess[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeRecord(raw)
}

// Put 实现 Store
func (m *MemoryStore) Put(_ context.Context, r *Record) error {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", r.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess[r.ID] = raw
	m.meta[r.ID] = r.UpdatedAt
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, id)
	delete(m.meta, id)
	return nil
}

func (m *MemoryStore) DeleteIdle(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, at := range m.meta {
		if at.Before(before) {
			ids = append(ids, id)
			delete(m.sess, id)
			delete(m.meta, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sess), nil
}

func (m *MemoryStore) Close() error { return nil }

// RedisStore 将会话以 JSON 存在 Redis 中，每次写入刷新 TTL；过期即视为空闲会话被清理。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并做一次 Ping
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}
	return decodeRecord(raw)
}

func (r *RedisStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.ID, err)
	}
	if err := r.client.Set(ctx, r.key(rec.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", rec.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", id, err)
	}
	return nil
}

// DeleteIdle 对 Redis 是空操作：空闲会话由 TTL 过期。
func (r *RedisStore) DeleteIdle(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan sessions: %w", err)
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decodeRecord(raw []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}
