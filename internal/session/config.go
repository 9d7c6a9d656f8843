package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	// Store 为 memory 或 redis。
	Store         string        `mapstructure:"store"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	// TTL 为 Redis 中会话的过期时间，每回合刷新；<=0 表示不过期。
	TTL time.Duration `mapstructure:"ttl"`
}

func DefaultConfig() Config {
	return Config{
		Store:     StoreMemory,
		RedisAddr: "localhost:6379",
		KeyPrefix: "pennyagent:session:",
		TTL:       24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = def.Store
	}
	if strings.TrimSpace(c.RedisAddr) == "" {
		c.RedisAddr = def.RedisAddr
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
	return c
}

// NewStore 按配置创建会话存储
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	cfg = cfg.withDefaults()
	switch cfg.Store {
	case StoreMemory:
		return NewMemoryStore(), nil
	case StoreRedis:
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown session store %q (want %s or %s)", cfg.Store, StoreMemory, StoreRedis)
	}
}
