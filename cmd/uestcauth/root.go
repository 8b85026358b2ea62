package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"uestcauth/internal/config"
	"uestcauth/internal/cookies"
	"uestcauth/internal/logger"
	"uestcauth/internal/session"
	"uestcauth/internal/wechat"
)

var cfgFile string

// rootCmd 根命令，负责加载配置和初始化日志
var rootCmd = &cobra.Command{
	Use:           "uestcauth",
	Short:         "UESTC unified identity authentication client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Warn("Config file unavailable, falling back to defaults", logger.Fields{
				"config_path": cfgFile,
				"error":       err.Error(),
			})
			cfg = config.Get()
		}

		if _, err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, "uestcauth"); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// Execute 注册子命令并执行，ctx 在收到中断信号时取消
func Execute(ctx context.Context) error {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// 中断退出不算失败
		if ctx.Err() == nil {
			logger.LogError(err, "Command failed", logger.Fields{"args": os.Args[1:]})
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/app.yaml", "配置文件路径")
}

// openClient 按配置打开 Cookie 存储并创建会话客户端，返回的 closer 负责释放存储
func openClient(cfg *config.Config, displayer wechat.Displayer) (*session.Client, func(), error) {
	store, err := cookies.OpenStore(cfg.Cookies.Backend, cfg.Cookies.Path)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if s, ok := store.(*cookies.SQLiteStore); ok {
		closer = func() { _ = s.Close() }
	}

	client, err := session.New(cfg.Portal,
		session.WithStore(store),
		session.WithCookieOptions(cookies.Options{PersistExpiry: cfg.Cookies.PersistExpiry}),
		session.WithDisplayer(displayer),
	)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return client, closer, nil
}
