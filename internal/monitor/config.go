package monitor

import (
	"runtime"
	"time"
)

type ErrorHandler func(err error)

type RetentionConfig struct {
	// Enabled 控制后台清理任务是否启用。
	Enabled bool `mapstructure:"enabled"`

	// Interval 为清理周期；启动时先执行一次，之后每个周期执行一次。
	Interval time.Duration `mapstructure:"interval"`
	// Workers 为并发执行清理任务的 worker 数量。
	Workers int `mapstructure:"workers"`
	// BatchRows 为单次 DELETE 的最大行数；分批删除以减少对 SQLite 写锁的占用。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的休眠时间；0 表示不休眠。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	// AuditKeep 为工具审计记录的保留时长；<=0 表示不按时间清理。
	AuditKeep time.Duration `mapstructure:"audit_keep"`
	// AuditKeepLatest 为审计记录的条数上限；<=0 表示不限。
	AuditKeepLatest int `mapstructure:"audit_keep_latest"`
	// TurnKeep 为对话转写的保留时长；<=0 表示不按时间清理。
	TurnKeep time.Duration `mapstructure:"turn_keep"`
	// SessionIdle 为会话的最长空闲时间，超过即删除；<=0 表示不清理。
	SessionIdle time.Duration `mapstructure:"session_idle"`

	// OnError 为异步错误回调；默认丢弃。
	OnError ErrorHandler `mapstructure:"-"`
}

type Config struct {
	Retention RetentionConfig `mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		Retention: RetentionConfig{
			Enabled:     true,
			Interval:    time.Hour,
			Workers:     max(2, runtime.NumCPU()),
			BatchRows:   500,
			IdleSleep:   50 * time.Millisecond,
			AuditKeep:   30 * 24 * time.Hour,
			TurnKeep:    30 * 24 * time.Hour,
			SessionIdle: 24 * time.Hour,
		},
	}
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = max(2, runtime.NumCPU())
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
