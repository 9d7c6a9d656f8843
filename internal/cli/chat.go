package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PennyAgent/internal/tui"
	"github.com/wwwzy/PennyAgent/internal/ui"
)

var (
	chatUI        string
	chatSessionID string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `在终端里和助手对话，完成开户流程。
输入 /upload <文件> 模拟上传证件或自拍（只发送文件名），/reset 重新开始。
会话存储为 redis 时可以用 --session 继续之前的会话。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		app, err := buildApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = app.Close(closeCtx)
		}()

		sessionID := chatSessionID
		if sessionID == "" {
			sessionID, err = app.manager.Create(ctx)
			if err != nil {
				return fmt.Errorf("创建会话失败: %w", err)
			}
		} else if _, err := app.manager.Get(ctx, sessionID); err != nil {
			return fmt.Errorf("加载会话失败: %w", err)
		}
		logger.Debug().Str("session_id", sessionID).Msg("chat session ready")

		return uiImpl.Run(ctx, app.manager, sessionID, ui.ChatOptions{
			AssistantName: app.agent.Config().Name,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "继续已有会话（需要持久化的会话存储）")
}
