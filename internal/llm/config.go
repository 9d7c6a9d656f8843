package llm

import "fmt"

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

type Config struct {
	// Provider 为 ark 或 openai（兼容 OpenAI 协议的服务均可用 openai + base_url）。
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	ModelID  string `mapstructure:"model_id"`
	BaseURL  string `mapstructure:"base_url"`
	// Temperature <=0 时不下发，使用服务端默认值。
	Temperature float32 `mapstructure:"temperature"`
	// RequestsPerMinute 为进程内对模型的请求限速；<=0 表示不限速。
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderArk, ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderArk, ProviderOpenAI, c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (or set %s_API_KEY env var)", envPrefix(c.Provider))
	}
	if c.ModelID == "" {
		return fmt.Errorf("llm.model_id is required (or set %s_MODEL_ID env var)", envPrefix(c.Provider))
	}
	return nil
}

func envPrefix(provider string) string {
	if provider == ProviderOpenAI {
		return "OPENAI"
	}
	return "ARK"
}
