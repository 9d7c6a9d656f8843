// Package knowledge 实现产品问答：先从知识库检索相关段落，再让模型只依据这些段落作答。
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/PennyAgent/internal/llm"
)

const (
	ModeLocal = "local"
	ModeHTTP  = "http"
)

type Config struct {
	Mode     string        `mapstructure:"mode"`
	DocsDir  string        `mapstructure:"docs_dir"`
	Endpoint string        `mapstructure:"endpoint"`
	TopK     int           `mapstructure:"top_k"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NoAnswer 为检索不到任何相关内容时的固定回答。
const NoAnswer = "I don't know. The knowledge base has no information about that."

const qaTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {question}
Helpful Answer:`

var qaStop = []string{"\n\nHuman:", "\n\nSystem:"}

// RetrievalQA 把检索到的全部段落拼进一个提示词（stuff 策略）后调用一次模型。
type RetrievalQA struct {
	retriever retriever.Retriever
	oracle    llm.Oracle
	tpl       prompt.ChatTemplate
}

func NewRetrievalQA(r retriever.Retriever, oracle llm.Oracle) *RetrievalQA {
	return &RetrievalQA{
		retriever: r,
		oracle:    oracle,
		tpl:       prompt.FromMessages(schema.FString, schema.UserMessage(qaTemplate)),
	}
}

// New 按配置选择检索后端。
func New(cfg Config, oracle llm.Oracle) (*RetrievalQA, error) {
	var (
		r   retriever.Retriever
		err error
	)
	switch cfg.Mode {
	case "", ModeLocal:
		r, err = NewFileRetriever(cfg.DocsDir, cfg.TopK)
	case ModeHTTP:
		r, err = NewHTTPRetriever(cfg.Endpoint, cfg.TopK, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported knowledge mode: %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return NewRetrievalQA(r, oracle), nil
}

func (q *RetrievalQA) Answer(ctx context.Context, question string) (string, error) {
	if q == nil || q.retriever == nil || q.oracle == nil {
		return "", errors.New("knowledge base not initialized")
	}

	docs, err := q.retriever.Retrieve(ctx, question)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	if len(docs) == 0 {
		return NoAnswer, nil
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}

	msgs, err := q.tpl.Format(ctx, map[string]any{
		"context":  strings.Join(parts, "\n\n"),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("format qa prompt: %w", err)
	}

	out, err := q.oracle.Complete(ctx, msgs[0].Content, qaStop)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
