package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/wwwzy/PennyAgent/internal/llm"
)

const (
	NodePrompt = "prompt_node"
	NodeOracle = "oracle_node"
	NodeTools  = "tools_node"
)

// 回合结束原因，用于指标与日志。
const (
	OutcomeFinal          = "final"
	OutcomeIterationLimit = "iteration_limit"
	OutcomeUnknownTool    = "unknown_tool"
)

// 工具模式下每次调用模型都带上的 stop 序列：防止模型编造工具结果或用户发言。
var toolLoopStop = []string{"\nObservation:", "\nUser"}

const (
	// UnknownToolReply 为模型请求了不存在的工具时给用户的回复。
	UnknownToolReply = "I'm sorry, I wasn't able to complete that request. Could you please try again?"
	// IterationLimitReply 为达到迭代上限且最后一次输出里没有可展示文本时的回复。
	IterationLimitReply = "I'm sorry, I need a little more time to work on that. Could you please repeat your last message?"
)

// turnState 为一个回合在 Graph 中流转的状态
type turnState struct {
	Input    string
	History  string
	Stage    string
	Registry *Registry

	// Steps 为本回合的 scratch-pad，回合结束即丢弃
	Steps  []ToolStep
	Prompt string

	Iterations int
	// Pending 为最近一次解析出的工具调用，等待 ToolsNode 执行
	Pending Turn

	Done    bool
	Final   string
	Outcome string
}

// buildToolLoop 构建工具模式的回合流程：
//
//	START -> prompt -> oracle -(final/limit)-> END
//	                     \-(tool call)-> tools -(unknown tool)-> END
//	                                       \-> prompt (循环)
func (a *Agent) buildToolLoop(ctx context.Context) (compose.Runnable[*turnState, *turnState], error) {
	g := compose.NewGraph[*turnState, *turnState]()

	// 1. 添加节点
	if err := g.AddLambdaNode(NodePrompt, compose.InvokableLambda(a.promptNode)); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeOracle, compose.InvokableLambda(a.oracleNode)); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeTools, compose.InvokableLambda(a.toolsNode)); err != nil {
		return nil, err
	}

	// 2. 添加边
	if err := g.AddEdge(compose.START, NodePrompt); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodePrompt, NodeOracle); err != nil {
		return nil, err
	}

	// 3. 添加分支
	// Oracle -> Tools OR End
	err := g.AddBranch(NodeOracle, compose.NewGraphBranch(func(ctx context.Context, s *turnState) (string, error) {
		if s.Done {
			return compose.END, nil
		}
		return NodeTools, nil
	}, map[string]bool{
		NodeTools:   true,
		compose.END: true,
	}))
	if err != nil {
		return nil, err
	}

	// Tools -> Prompt (Loop back) OR End
	err = g.AddBranch(NodeTools, compose.NewGraphBranch(func(ctx context.Context, s *turnState) (string, error) {
		if s.Done {
			return compose.END, nil
		}
		return NodePrompt, nil
	}, map[string]bool{
		NodePrompt:  true,
		compose.END: true,
	}))
	if err != nil {
		return nil, err
	}

	// 4. 编译 Graph；迭代上限由 oracleNode 控制，这里的步数上限只兜底
	return g.Compile(ctx,
		compose.WithGraphName("penny_turn"),
		compose.WithMaxRunSteps(a.cfg.MaxIterations*4+4),
	)
}

func (a *Agent) promptNode(ctx context.Context, s *turnState) (*turnState, error) {
	p, err := a.prompts.ToolPrompt(ctx, PromptInput{
		Input:   s.Input,
		History: s.History,
		Stage:   s.Stage,
		Catalog: s.Registry.Catalog(),
		Names:   s.Registry.Names(),
		Steps:   s.Steps,
	})
	if err != nil {
		return s, err
	}
	s.Prompt = p
	return s, nil
}

func (a *Agent) oracleNode(ctx context.Context, s *turnState) (*turnState, error) {
	s.Iterations++
	raw, err := a.deps.Oracle.Complete(llm.WithIteration(ctx, s.Iterations), s.Prompt, toolLoopStop)
	if err != nil {
		return s, fmt.Errorf("oracle call %d failed: %w", s.Iterations, err)
	}

	turn := a.parser.Parse(raw)
	log := loggerFor(ctx, a.log)
	log.Debug().
		Int("iteration", s.Iterations).
		Str("kind", turn.Kind.String()).
		Str("raw", raw).
		Msg("oracle output")

	switch {
	case turn.Kind == KindFinalAnswer:
		s.Done, s.Final, s.Outcome = true, turn.Text, OutcomeFinal
	case s.Iterations >= a.cfg.MaxIterations:
		// 上限时不再执行工具，尽量保留模型已经说出的内容
		final := salvage(raw)
		if final == "" {
			final = IterationLimitReply
		}
		s.Done, s.Final, s.Outcome = true, final, OutcomeIterationLimit
	default:
		s.Pending = turn
	}
	return s, nil
}

func (a *Agent) toolsNode(ctx context.Context, s *turnState) (*turnState, error) {
	call := s.Pending
	s.Pending = Turn{}

	t, err := s.Registry.Lookup(call.Tool)
	if errors.Is(err, ErrUnknownTool) {
		log := loggerFor(ctx, a.log)
		log.Warn().
			Str("tool", call.Tool).
			Msg("oracle requested unknown tool")
		s.Done, s.Final, s.Outcome = true, UnknownToolReply, OutcomeUnknownTool
		return s, nil
	}
	if err != nil {
		return s, err
	}

	obs, err := t.InvokableRun(ctx, call.Input)
	if err != nil {
		return s, fmt.Errorf("run tool %s failed: %w", call.Tool, err)
	}
	s.Steps = append(s.Steps, ToolStep{
		Log:         call.Log,
		Tool:        call.Tool,
		Input:       call.Input,
		Observation: obs,
	})
	return s, nil
}
