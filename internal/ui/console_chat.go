package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, sessionID string, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	if backend == nil {
		return fmt.Errorf("console ui: backend is nil")
	}

	reader := bufio.NewReader(in)
	label := opts.Label()

	fmt.Fprintln(out, "进入对话模式。/upload <文件> 模拟上传，/reset 重新开始，exit/quit 退出。")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		eof := false
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("读取输入失败: %w", err)
			}
			// 输入结束但最后一行没有换行时，先处理完这一行再退出
			if strings.TrimSpace(line) == "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "已退出。")
				return nil
			}
			eof = true
		}

		if quit := u.handle(ctx, backend, sessionID, line, label); quit || eof {
			fmt.Fprintln(out, "已退出。")
			return nil
		}
	}
}

// handle 执行一行输入并打印结果，返回是否应退出。
func (u *ConsoleChatUI) handle(ctx context.Context, backend ChatBackend, sessionID, line, label string) bool {
	out := u.Out
	res, err := Dispatch(ctx, backend, sessionID, line)
	if err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(out, err.Error())
			return false
		}
		// 回合失败时会话状态不变，用户可以直接重试
		fmt.Fprintf(out, "%s: (发生错误: %v)\n\n", label, err)
		return false
	}

	switch res.Action {
	case ActionNone:
		return false
	case ActionQuit:
		return true
	case ActionReset:
		fmt.Fprintln(out, res.Notice)
		fmt.Fprintln(out)
		return false
	}

	msg := strings.TrimSpace(res.Reply.Message)
	if msg == "" {
		fmt.Fprintf(out, "%s: (无文本输出)\n", label)
	} else {
		fmt.Fprintf(out, "%s: %s\n", label, msg)
	}
	fmt.Fprintln(out)
	return false
}
