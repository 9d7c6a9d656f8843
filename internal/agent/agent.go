package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/wwwzy/PennyAgent/internal/llm"
	"github.com/wwwzy/PennyAgent/internal/metrics"
	"github.com/wwwzy/PennyAgent/internal/onboarding"
	"github.com/wwwzy/PennyAgent/internal/storage"
	"github.com/wwwzy/PennyAgent/internal/telemetry"
)

// Config 定义助手人设与回合策略。
type Config struct {
	// Name 为助手名，同时是历史中助手发言的标签。
	Name     string `mapstructure:"name"`
	Role     string `mapstructure:"role"`
	BankName string `mapstructure:"bank_name"`
	// UseTools=false 时每回合只调用一次模型，不走工具循环。
	UseTools bool `mapstructure:"use_tools"`
	// MaxIterations 为一回合内最多的模型调用次数。
	MaxIterations int `mapstructure:"max_iterations"`
}

func DefaultConfig() Config {
	return Config{
		Name:          "Penny",
		Role:          "Banking Assistant",
		BankName:      "AnyBank",
		UseTools:      true,
		MaxIterations: 4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.Role) == "" {
		c.Role = def.Role
	}
	if strings.TrimSpace(c.BankName) == "" {
		c.BankName = def.BankName
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// Deps 为 Agent 依赖的外部协作方。Oracle 必填；Store 为 nil 时不写审计记录。
type Deps struct {
	Oracle    llm.Oracle
	Backend   onboarding.Backend
	Knowledge KnowledgeBase
	Store     *storage.Storage
	Logger    zerolog.Logger
}

// Agent 持有所有会话共享的只读部分：模型、提示词模板与编译好的回合流程。
// 每个会话的可变状态在 Controller 中。
type Agent struct {
	cfg     Config
	deps    Deps
	log     zerolog.Logger
	prompts *PromptBuilder
	parser  *Parser
	direct  *DirectReplyChain
	loop    compose.Runnable[*turnState, *turnState]
}

func New(ctx context.Context, cfg Config, deps Deps) (*Agent, error) {
	if deps.Oracle == nil {
		return nil, errors.New("agent requires an oracle")
	}
	cfg = cfg.withDefaults()

	a := &Agent{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With().Str("component", "agent").Logger(),
		prompts: NewPromptBuilder(Persona{
			Name:     cfg.Name,
			Role:     cfg.Role,
			BankName: cfg.BankName,
		}),
		parser: NewParser(cfg.Name),
	}
	a.direct = NewDirectReplyChain(deps.Oracle, a.prompts)

	loop, err := a.buildToolLoop(ctx)
	if err != nil {
		return nil, fmt.Errorf("build tool loop failed: %w", err)
	}
	a.loop = loop
	return a, nil
}

func (a *Agent) Config() Config {
	return a.cfg
}

// State 为 Controller 可序列化的会话状态，用于会话存储。
type State struct {
	History  []Utterance `json:"history"`
	Progress Progress    `json:"progress"`
	Pending  string      `json:"pending,omitempty"`
}

// NewController 创建一个空会话。
func (a *Agent) NewController(ctx context.Context) (*Controller, error) {
	return a.Restore(ctx, State{})
}

// Restore 从快照恢复会话；工具绑定到新会话自己的 Progress。
func (a *Agent) Restore(ctx context.Context, st State) (*Controller, error) {
	c := &Controller{
		agent:    a,
		history:  NewHistory(st.History...),
		progress: &Progress{},
		pending:  st.Pending,
	}
	*c.progress = st.Progress

	tools := NewTools(a.deps.Backend, a.deps.Knowledge, c.progress)
	for i, t := range tools {
		tools[i] = wrapWithAudit(t, a.deps.Store, a.log)
	}
	reg, err := NewRegistry(ctx, tools...)
	if err != nil {
		return nil, err
	}
	c.registry = reg
	return c, nil
}

// Controller 驱动单个会话：记录用户与系统发言，并在 Step 中产出助手回复。
// 非并发安全，同一会话的调用需由上层串行化。
type Controller struct {
	agent    *Agent
	history  *History
	progress *Progress
	registry *Registry
	pending  string
}

// Seed 清空会话，回到初始状态。
func (c *Controller) Seed() {
	c.history.Reset()
	c.progress.Reset()
	c.pending = ""
}

// HumanStep 记录一条用户发言。
func (c *Controller) HumanStep(text string) {
	c.record(SpeakerUser, text)
}

// SystemStep 记录一条系统通知（例如用户上传了文件）。
func (c *Controller) SystemStep(text string) {
	c.record(SpeakerSystem, text)
}

func (c *Controller) record(speaker, text string) {
	text = strings.TrimSpace(text)
	c.history.Append(speaker, text)
	c.pending = speaker + ": " + text
}

// Step 运行一个回合并返回给用户的回复文本。
// 出错时历史保持不变，调用方可以直接重试。
func (c *Controller) Step(ctx context.Context) (string, error) {
	mode := "tools"
	if !c.agent.cfg.UseTools {
		mode = "direct"
	}
	start := time.Now()
	ctx, span := telemetry.StartTurnSpan(ctx, GetSessionID(ctx), mode)

	raw, outcome, iterations, err := c.run(ctx)
	metrics.TurnDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnTotal.WithLabelValues(mode, "error").Inc()
		telemetry.End(span, err)
		log := loggerFor(ctx, c.agent.log)
		log.Error().Err(err).
			Str("mode", mode).
			Msg("turn failed")
		return "", fmt.Errorf("run turn: %w", err)
	}
	metrics.TurnTotal.WithLabelValues(mode, outcome).Inc()
	metrics.TurnIterations.Observe(float64(iterations))
	telemetry.End(span, nil)

	reply := c.finish(raw)
	log := loggerFor(ctx, c.agent.log)
	log.Info().
		Str("mode", mode).
		Str("outcome", outcome).
		Int("iterations", iterations).
		Str("stage", c.Stage().String()).
		Msg("turn finished")
	return reply, nil
}

func (c *Controller) run(ctx context.Context) (string, string, int, error) {
	a := c.agent
	stage := c.progress.Summary(c.history.Len())

	if !a.cfg.UseTools {
		raw, err := a.direct.Reply(ctx, c.history.Render(), stage)
		if err != nil {
			return "", "", 1, err
		}
		return raw, OutcomeFinal, 1, nil
	}

	out, err := a.loop.Invoke(ctx, &turnState{
		Input:    c.pending,
		History:  c.history.Render(),
		Stage:    stage,
		Registry: c.registry,
	})
	if err != nil {
		return "", "", 0, err
	}
	return out.Final, out.Outcome, out.Iterations, nil
}

// finish 规范化助手回复：写入历史的形式总是以 EndOfTurn 结尾、不带重复的名字前缀；
// 返回给用户的文本去掉所有轮次标记。
func (c *Controller) finish(msg string) string {
	prefix := c.agent.cfg.Name + ":"
	body := strings.TrimSpace(msg)
	for strings.HasPrefix(body, prefix) {
		body = strings.TrimSpace(strings.TrimPrefix(body, prefix))
	}
	// 只剩轮次标记时改用兜底回复，用户总能收到一句话。
	if stripMarkers(body) == "" {
		fallback := IterationLimitReply
		if strings.Contains(body, EndOfConversation) {
			fallback += " " + EndOfConversation
		}
		body = fallback
	}
	if !strings.Contains(body, EndOfTurn) {
		body += " " + EndOfTurn
	}
	c.history.Append(c.agent.cfg.Name, body)
	return stripMarkers(body)
}

func stripMarkers(s string) string {
	for _, marker := range []string{EndOfTurn, EndOfConversation, finalAnswerMarker} {
		s = strings.ReplaceAll(s, marker, "")
	}
	return strings.TrimSpace(s)
}

// Snapshot 返回会话状态的深拷贝。
func (c *Controller) Snapshot() State {
	return State{
		History:  c.history.Entries(),
		Progress: *c.progress,
		Pending:  c.pending,
	}
}

func (c *Controller) History() []Utterance {
	return c.history.Entries()
}

func (c *Controller) Progress() Progress {
	return *c.progress
}

func (c *Controller) Stage() Stage {
	return c.progress.Stage(c.history.Len())
}

func (c *Controller) Registry() *Registry {
	return c.registry
}
