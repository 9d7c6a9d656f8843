package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultBusyTimeout = 5 * time.Second
	memoryDBName       = "pennyagent"
)

// Config 描述本地 SQLite 存储；Enabled=false 时对话照常进行，只是不落审计和转写记录。
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
	// EnableWAL 让归档写入与 storage 子命令的读取互不阻塞。
	EnableWAL       bool          `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// SlowThreshold 超过该耗时的 SQL 以 warn 级别记录；<=0 不记录慢查询。
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
	// Logger 为 nil 时使用 gorm 默认 logger；一般传 NewGormLogger 的结果。
	Logger logger.Interface `mapstructure:"-"`
}

// Storage 封装 gorm 连接，保存工具审计记录和对话转写。
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	configurePool(sqlDB, cfg)

	s := &Storage{db: db, sqlDB: sqlDB}
	for _, step := range []func(context.Context) error{s.Migrate, s.Ping} {
		if err := step(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func configurePool(sqlDB *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage not initialized")
	}
	return s.sqlDB.PingContext(ctx)
}

// Migrate 建表或补齐新增列；两张表都只追加写入，不做破坏性变更。
func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&TurnRecord{}, &AuditRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// dsnFromConfig 把连接级 PRAGMA 写进 DSN，连接池里每个新连接都会生效，
// 而不只是 Open 时拿到的那一个。
func dsnFromConfig(cfg Config) (string, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"foreign_keys(1)",
	}
	if cfg.EnableWAL && !cfg.InMemory {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}

	var base string
	params := make([]string, 0, len(pragmas)+2)
	switch {
	case cfg.InMemory:
		base = "file:" + memoryDBName
		params = append(params, "mode=memory", "cache=shared")
	case strings.TrimSpace(cfg.Path) == "":
		return "", errors.New("sqlite path is required when InMemory=false")
	default:
		base = "file:" + cfg.Path
	}
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	return base + "?" + strings.Join(params, "&"), nil
}
