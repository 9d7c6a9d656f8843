package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// NewChatModel 按 provider 初始化 eino ChatModel。
func NewChatModel(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderArk:
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelID,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init ark chat model: %w", err)
		}
		return cm, nil
	case ProviderOpenAI:
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelID,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai chat model: %w", err)
		}
		return cm, nil
	}
	return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
}

// New 组装完整的 Oracle：ChatModel -> 限速 -> 指标/链路。
func New(ctx context.Context, cfg Config) (Oracle, error) {
	cm, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var o Oracle = NewChatModelOracle(cm, cfg.Temperature)
	o = WithRateLimit(o, cfg.RequestsPerMinute, cfg.Burst)
	return Instrument(o), nil
}
