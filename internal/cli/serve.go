package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wwwzy/PennyAgent/internal/monitor"
	"github.com/wwwzy/PennyAgent/internal/server"

	"github.com/spf13/cobra"
)

var serveAddr string

// serveCmd 代表 serve 命令
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 PennyAgent HTTP 服务",
	Long: `以 HTTP 服务的方式运行助手。
这将初始化存储与会话存储，启动保留策略清理任务，并对外提供会话接口。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 上下文用于优雅退出
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// 2. 组装 Agent 与会话管理
		logger.Info().Msg("正在初始化组件...")
		app, err := buildApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer closeCancel()
			if err := app.Close(closeCtx); err != nil {
				logger.Warn().Err(err).Msg("释放资源时发生错误")
			}
		}()

		// 3. 初始化维护任务：审计/转写保留策略与空闲会话清理
		retention := cfg.Retention
		retention.OnError = func(err error) {
			logger.Warn().Err(err).Msg("retention pass failed")
		}
		mgr, err := monitor.NewManager(monitor.Config{Retention: retention}, logger)
		if err != nil {
			return fmt.Errorf("创建维护任务管理器失败: %w", err)
		}
		if cfg.Retention.Enabled {
			ret, err := monitor.NewRetentionCollector(app.store, app.manager)
			if err != nil {
				return fmt.Errorf("创建 retention 采集器失败: %w", err)
			}
			mgr.WithRetention(ret)
		}
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("启动维护任务失败: %w", err)
		}

		// 4. 启动 HTTP 服务
		srvCfg := cfg.Server
		if serveAddr != "" {
			srvCfg.Addr = serveAddr
		}
		srv := server.New(srvCfg, app.manager, logger)
		runErr := make(chan error, 1)
		go func() {
			runErr <- srv.Run()
		}()
		logger.Info().Str("addr", srvCfg.Addr).Msg("PennyAgent 已启动。按 Ctrl+C 停止。")

		// 5. 等待信号
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		var serveErr error
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("收到信号, 正在关闭...")
		case serveErr = <-runErr:
			if serveErr != nil {
				logger.Error().Err(serveErr).Msg("HTTP 服务异常退出")
			}
		}

		// 6. 优雅停止
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭 HTTP 服务失败")
		}

		mgr.Stop()
		if err := mgr.Wait(); err != nil {
			serveErr = errors.Join(serveErr, fmt.Errorf("维护任务停止时发生错误: %w", err))
		}

		logger.Info().Msg("关闭完成。")
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址，覆盖 server.addr")
}
