package ui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/wwwzy/PennyAgent/internal/session"
)

// ChatBackend 为交互界面所需的会话操作；session.Manager 实现了它。
type ChatBackend interface {
	Seed(ctx context.Context, id string) error
	Ask(ctx context.Context, id, text string) (session.Reply, error)
	Notify(ctx context.Context, id, text string) (session.Reply, error)
}

var _ ChatBackend = (*session.Manager)(nil)

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, sessionID string, opts ChatOptions) error
}

type ChatOptions struct {
	// AssistantName 用作回复前缀，例如 "Penny: ..."
	AssistantName string
}

func (o ChatOptions) Label() string {
	if strings.TrimSpace(o.AssistantName) == "" {
		return "助手"
	}
	return o.AssistantName
}

// Action 为一行输入解析后的动作
type Action int

const (
	ActionNone Action = iota
	ActionAsk
	ActionUpload
	ActionReset
	ActionQuit
)

// Outcome 为 Dispatch 的执行结果
type Outcome struct {
	Action Action
	// Notice 为非回复类的提示文本（例如重置成功）
	Notice string
	Reply  session.Reply
}

var ErrUsage = errors.New("usage: /upload <file>")

// Parse 把一行输入解析为动作与参数：
//
//	exit / quit      退出
//	/reset           清空会话，重新开始开户流程
//	/upload <file>   模拟上传文件，向会话发送一条系统通知
//	其他非空内容     作为用户发言
func Parse(line string) (Action, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ActionNone, ""
	}
	switch strings.ToLower(line) {
	case "exit", "quit", "/exit", "/quit":
		return ActionQuit, ""
	case "/reset":
		return ActionReset, ""
	}
	if cmd, arg, ok := strings.Cut(line, " "); ok && strings.EqualFold(cmd, "/upload") {
		return ActionUpload, strings.TrimSpace(arg)
	}
	if strings.EqualFold(line, "/upload") {
		return ActionUpload, ""
	}
	return ActionAsk, line
}

// Dispatch 解析并执行一行输入。上传只发送文件名，路径部分会被去掉。
func Dispatch(ctx context.Context, backend ChatBackend, sessionID, line string) (Outcome, error) {
	action, arg := Parse(line)
	out := Outcome{Action: action}

	switch action {
	case ActionAsk:
		reply, err := backend.Ask(ctx, sessionID, arg)
		if err != nil {
			return out, err
		}
		out.Reply = reply
	case ActionUpload:
		if arg == "" {
			return out, ErrUsage
		}
		reply, err := backend.Notify(ctx, sessionID, session.UploadNotice(filepath.Base(arg)))
		if err != nil {
			return out, err
		}
		out.Reply = reply
	case ActionReset:
		if err := backend.Seed(ctx, sessionID); err != nil {
			return out, err
		}
		out.Notice = "会话已重置。"
	}
	return out, nil
}
