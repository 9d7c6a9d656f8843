package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wwwzy/PennyAgent/internal/agent"
	"github.com/wwwzy/PennyAgent/internal/knowledge"
	"github.com/wwwzy/PennyAgent/internal/llm"
	"github.com/wwwzy/PennyAgent/internal/logging"
	"github.com/wwwzy/PennyAgent/internal/monitor"
	"github.com/wwwzy/PennyAgent/internal/onboarding"
	"github.com/wwwzy/PennyAgent/internal/server"
	"github.com/wwwzy/PennyAgent/internal/session"
	"github.com/wwwzy/PennyAgent/internal/storage"
	"github.com/wwwzy/PennyAgent/internal/telemetry"
)

type Config struct {
	Log        logging.Config          `mapstructure:"log"`
	Assistant  agent.Config            `mapstructure:"assistant"`
	LLM        llm.Config              `mapstructure:"llm"`
	Onboarding onboarding.Config       `mapstructure:"onboarding"`
	Knowledge  knowledge.Config        `mapstructure:"knowledge"`
	Session    session.Config          `mapstructure:"session"`
	Storage    storage.Config          `mapstructure:"storage"`
	Retention  monitor.RetentionConfig `mapstructure:"retention"`
	Server     server.Config           `mapstructure:"server"`
	Telemetry  telemetry.Config        `mapstructure:"telemetry"`
}

func Load(cfgFile string) (*Config, error) {
	// 1. 初始化 Viper
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pennyagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PENNYAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper 只反序列化它“知道”的 key（来自配置文件、Defaults 或显式 Bind），
	// 所以每个字段都要在 setDefaults 里出现，环境变量覆盖才会生效。
	setDefaults(v)

	// 2. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件未找到，使用默认值
	}

	// 3. 反序列化 (文件/环境变量 覆盖 默认值)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 4. 验证关键配置
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.Assistant.MaxIterations <= 0 {
		return fmt.Errorf("assistant.max_iterations must be positive, got %d", c.Assistant.MaxIterations)
	}
	switch c.Session.Store {
	case session.StoreMemory, session.StoreRedis:
	default:
		return fmt.Errorf("session.store must be %q or %q, got %q", session.StoreMemory, session.StoreRedis, c.Session.Store)
	}
	switch c.Knowledge.Mode {
	case knowledge.ModeLocal:
	case knowledge.ModeHTTP:
		if c.Knowledge.Endpoint == "" {
			return fmt.Errorf("knowledge.endpoint is required when knowledge.mode is %q", knowledge.ModeHTTP)
		}
	default:
		return fmt.Errorf("knowledge.mode must be %q or %q, got %q", knowledge.ModeLocal, knowledge.ModeHTTP, c.Knowledge.Mode)
	}
	if c.Storage.Enabled && !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	// -------------------------------------------------------------------------
	// Log Defaults (日志默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	// -------------------------------------------------------------------------
	// Assistant Defaults (助手人设与回合策略)
	// -------------------------------------------------------------------------
	v.SetDefault("assistant.name", def.Assistant.Name)
	v.SetDefault("assistant.role", def.Assistant.Role)
	v.SetDefault("assistant.bank_name", def.Assistant.BankName)
	v.SetDefault("assistant.use_tools", def.Assistant.UseTools)
	v.SetDefault("assistant.max_iterations", def.Assistant.MaxIterations)

	// -------------------------------------------------------------------------
	// LLM Defaults (模型默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("llm.provider", def.LLM.Provider)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model_id", "")
	v.SetDefault("llm.base_url", def.LLM.BaseURL)
	v.SetDefault("llm.temperature", def.LLM.Temperature)
	v.SetDefault("llm.requests_per_minute", def.LLM.RequestsPerMinute)
	v.SetDefault("llm.burst", def.LLM.Burst)

	// 兼容各模型服务商惯用的环境变量，取第一个非空值
	_ = v.BindEnv("llm.api_key", "PENNYAGENT_LLM_API_KEY", "ARK_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.model_id", "PENNYAGENT_LLM_MODEL_ID", "ARK_MODEL_ID", "OPENAI_MODEL_ID")
	_ = v.BindEnv("llm.base_url", "PENNYAGENT_LLM_BASE_URL", "ARK_BASE_URL", "OPENAI_BASE_URL")

	// -------------------------------------------------------------------------
	// Onboarding Backend Defaults (开户后端)
	// -------------------------------------------------------------------------
	v.SetDefault("onboarding.api_endpoint", "")
	v.SetDefault("onboarding.timeout", def.Onboarding.Timeout)
	v.SetDefault("onboarding.retry_count", def.Onboarding.RetryCount)
	_ = v.BindEnv("onboarding.api_endpoint", "PENNYAGENT_ONBOARDING_API_ENDPOINT", "API_ENDPOINT")

	// -------------------------------------------------------------------------
	// Knowledge Defaults (产品知识库)
	// -------------------------------------------------------------------------
	v.SetDefault("knowledge.mode", def.Knowledge.Mode)
	v.SetDefault("knowledge.docs_dir", def.Knowledge.DocsDir)
	v.SetDefault("knowledge.endpoint", "")
	v.SetDefault("knowledge.top_k", def.Knowledge.TopK)
	v.SetDefault("knowledge.timeout", def.Knowledge.Timeout)

	// -------------------------------------------------------------------------
	// Session Defaults (会话存储)
	// -------------------------------------------------------------------------
	v.SetDefault("session.store", def.Session.Store)
	v.SetDefault("session.redis_addr", def.Session.RedisAddr)
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", def.Session.RedisDB)
	v.SetDefault("session.key_prefix", def.Session.KeyPrefix)
	v.SetDefault("session.ttl", def.Session.TTL)

	// -------------------------------------------------------------------------
	// Storage Defaults (存储默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.enabled", def.Storage.Enabled)
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("storage.in_memory", def.Storage.InMemory)
	v.SetDefault("storage.enable_wal", def.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", def.Storage.BusyTimeout)
	v.SetDefault("storage.slow_threshold", def.Storage.SlowThreshold)

	// -------------------------------------------------------------------------
	// Retention Defaults (数据清理默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("retention.enabled", def.Retention.Enabled)
	v.SetDefault("retention.interval", def.Retention.Interval)
	v.SetDefault("retention.workers", def.Retention.Workers)
	v.SetDefault("retention.batch_rows", def.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", def.Retention.IdleSleep)
	v.SetDefault("retention.audit_keep", def.Retention.AuditKeep)
	v.SetDefault("retention.audit_keep_latest", def.Retention.AuditKeepLatest)
	v.SetDefault("retention.turn_keep", def.Retention.TurnKeep)
	v.SetDefault("retention.session_idle", def.Retention.SessionIdle)

	// -------------------------------------------------------------------------
	// Server Defaults (HTTP 服务)
	// -------------------------------------------------------------------------
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.upload_dir", def.Server.UploadDir)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)

	// -------------------------------------------------------------------------
	// Telemetry Defaults (链路追踪)
	// -------------------------------------------------------------------------
	v.SetDefault("telemetry.enabled", def.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", def.Telemetry.ServiceName)
	v.SetDefault("telemetry.endpoint", def.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", def.Telemetry.Insecure)
}

func DefaultConfig() Config {
	return Config{
		Log:       logging.DefaultConfig(),
		Assistant: agent.DefaultConfig(),
		LLM: llm.Config{
			Provider: llm.ProviderArk,
			BaseURL:  "https://ark.cn-beijing.volces.com/api/v3",
		},
		Onboarding: onboarding.DefaultConfig(),
		Knowledge: knowledge.Config{
			Mode:    knowledge.ModeLocal,
			DocsDir: "docs",
			TopK:    4,
			Timeout: 10 * time.Second,
		},
		Session: session.DefaultConfig(),
		Storage: storage.Config{
			Enabled:       false,
			Path:          "pennyagent.db",
			EnableWAL:     true,
			BusyTimeout:   5 * time.Second,
			SlowThreshold: 200 * time.Millisecond,
		},
		Retention: monitor.DefaultConfig().Retention,
		Server:    server.DefaultConfig(),
		Telemetry: telemetry.Config{
			ServiceName: "pennyagent",
			Endpoint:    "localhost:4318",
			Insecure:    true,
		},
	}
}
