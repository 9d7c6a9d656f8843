package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wwwzy/PennyAgent/internal/agent"
	"github.com/wwwzy/PennyAgent/internal/config"
	"github.com/wwwzy/PennyAgent/internal/knowledge"
	"github.com/wwwzy/PennyAgent/internal/llm"
	"github.com/wwwzy/PennyAgent/internal/onboarding"
	"github.com/wwwzy/PennyAgent/internal/session"
	"github.com/wwwzy/PennyAgent/internal/storage"
	"github.com/wwwzy/PennyAgent/internal/telemetry"
)

// application 为 chat 与 serve 共用的运行时组件。
type application struct {
	agent    *agent.Agent
	store    *storage.Storage
	sessions session.Store
	manager  *session.Manager

	closers []func(context.Context) error
}

// buildApplication 按配置组装：链路 -> 存储 -> 模型 -> 开户后端 -> 知识库 -> Agent -> 会话管理。
// 开户后端与知识库是可选的，缺失时对应工具会回复“暂不可用”。
func buildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	if cfg.Storage.Enabled {
		app.store, err = storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("打开存储失败: %w", err)
		}
		store := app.store
		app.closers = append(app.closers, func(context.Context) error { return store.Close() })
	}

	oracle, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("创建模型失败: %w", err)
	}

	var backend onboarding.Backend
	if cfg.Onboarding.APIEndpoint != "" {
		client, err := onboarding.NewClient(cfg.Onboarding)
		if err != nil {
			return nil, fmt.Errorf("创建开户后端客户端失败: %w", err)
		}
		backend = client
	} else {
		log.Warn().Msg("onboarding.api_endpoint not set, verification tools will report unavailable")
	}

	var kb agent.KnowledgeBase
	if qa, err := knowledge.New(cfg.Knowledge, oracle); err != nil {
		log.Warn().Err(err).Msg("knowledge base disabled")
	} else {
		kb = qa
	}

	app.agent, err = agent.New(ctx, cfg.Assistant, agent.Deps{
		Oracle:    oracle,
		Backend:   backend,
		Knowledge: kb,
		Store:     app.store,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Agent 失败: %w", err)
	}

	app.sessions, err = session.NewStore(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("创建会话存储失败: %w", err)
	}
	sessions := app.sessions
	app.closers = append(app.closers, func(context.Context) error { return sessions.Close() })

	app.manager = session.NewManager(app.agent, app.sessions, app.store, log)
	return app, nil
}

// Close 按创建的逆序释放资源。
func (a *application) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
