package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Oracle 是文本补全黑盒：输入完整提示词，返回模型输出。
// 实现必须在第一个 stop 序列处截断输出（不含 stop 本身）。
type Oracle interface {
	Complete(ctx context.Context, prompt string, stop []string) (string, error)
}

// OracleFunc 便于用函数实现 Oracle（测试中常用）。
type OracleFunc func(ctx context.Context, prompt string, stop []string) (string, error)

func (f OracleFunc) Complete(ctx context.Context, prompt string, stop []string) (string, error) {
	return f(ctx, prompt, stop)
}

// TruncateAtStop 在最早出现的 stop 序列处截断 text。
// 部分服务端会忽略 stop 参数，因此本地总是再截一次。
func TruncateAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

// ChatModelOracle 把 eino ChatModel 适配成补全接口：整段提示词作为一条 user 消息发送。
type ChatModelOracle struct {
	cm          model.BaseChatModel
	temperature float32
}

func NewChatModelOracle(cm model.BaseChatModel, temperature float32) *ChatModelOracle {
	return &ChatModelOracle{cm: cm, temperature: temperature}
}

func (o *ChatModelOracle) Complete(ctx context.Context, prompt string, stop []string) (string, error) {
	if o == nil || o.cm == nil {
		return "", errors.New("chat model not initialized")
	}

	opts := []model.Option{}
	if len(stop) > 0 {
		opts = append(opts, model.WithStop(stop))
	}
	if o.temperature > 0 {
		opts = append(opts, model.WithTemperature(o.temperature))
	}

	msg, err := o.cm.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)}, opts...)
	if err != nil {
		return "", fmt.Errorf("chat model generate failed: %w", err)
	}
	if msg == nil {
		return "", errors.New("chat model returned empty message")
	}
	return TruncateAtStop(msg.Content, stop), nil
}
