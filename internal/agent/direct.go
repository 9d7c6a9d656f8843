package agent

import (
	"context"

	"github.com/wwwzy/PennyAgent/internal/llm"
)

var directReplyStop = []string{"\nUser:"}

// DirectReplyChain 为关闭工具时的回复方式：一次模型调用，原样返回输出。
type DirectReplyChain struct {
	oracle  llm.Oracle
	prompts *PromptBuilder
}

func NewDirectReplyChain(oracle llm.Oracle, prompts *PromptBuilder) *DirectReplyChain {
	return &DirectReplyChain{oracle: oracle, prompts: prompts}
}

func (d *DirectReplyChain) Reply(ctx context.Context, history, stage string) (string, error) {
	p, err := d.prompts.DirectPrompt(ctx, history, stage)
	if err != nil {
		return "", err
	}
	return d.oracle.Complete(llm.WithIteration(ctx, 1), p, directReplyStop)
}
