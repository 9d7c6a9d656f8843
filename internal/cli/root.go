package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/wwwzy/PennyAgent/internal/config"
	"github.com/wwwzy/PennyAgent/internal/logging"
	"github.com/wwwzy/PennyAgent/internal/storage"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "pennyagent",
	Short: "PennyAgent 是一个银行开户对话助手",
	Long: `PennyAgent 以对话方式引导用户完成银行开户：
校验邮箱、核验证件与人脸、收集个人信息并提交开户。
可以在终端里直接对话，也可以作为 HTTP 服务运行。`,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.pennyagent/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量（如果已设置），并据此构造日志。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err = logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	cfg.Storage.Logger = storage.NewGormLogger(logger, cfg.Storage.SlowThreshold)
}
