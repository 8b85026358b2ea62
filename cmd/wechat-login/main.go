package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"uestcauth/internal/config"
	"uestcauth/internal/cookies"
	"uestcauth/internal/logger"
	"uestcauth/internal/session"
	"uestcauth/internal/stream"
	"uestcauth/internal/wechat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Printf("❌ 登录失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, cookiePath, server string

	cmd := &cobra.Command{
		Use:           "wechat-login",
		Short:         "Log in to UESTC unified identity authentication by scanning a WeChat QR code",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("🚀 电子科技大学统一身份认证 微信扫码登录")
			fmt.Println("================================")

			if server != "" {
				return followRemote(cmd.Context(), server)
			}
			return loginLocal(cmd.Context(), configPath, cookiePath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config/app.yaml", "配置文件路径")
	cmd.Flags().StringVar(&cookiePath, "cookies", "", "Cookie 存储路径，覆盖配置")
	cmd.Flags().StringVar(&server, "server", "", "已运行的 uestcauth 服务地址，设置后由服务端完成登录")
	return cmd
}

// loginLocal 在本进程内完成扫码登录并保存 Cookie
func loginLocal(ctx context.Context, configPath, cookiePath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("⚠️  配置文件不可用，使用默认配置: %v\n", err)
		cfg = config.Default()
	}
	if cookiePath != "" {
		cfg.Cookies.Path = cookiePath
	}

	// 终端工具只输出警告以上的日志，避免冲掉二维码
	if _, err := logger.InitLogger("warn", "text", "stderr", "wechat-login"); err != nil {
		return err
	}

	store, err := cookies.OpenStore(cfg.Cookies.Backend, cfg.Cookies.Path)
	if err != nil {
		return err
	}
	if s, ok := store.(*cookies.SQLiteStore); ok {
		defer s.Close()
	}

	client, err := session.New(cfg.Portal,
		session.WithStore(store),
		session.WithCookieOptions(cookies.Options{PersistExpiry: cfg.Cookies.PersistExpiry}),
		session.WithDisplayer(wechat.NewTerminalDisplayer(os.Stdout)),
	)
	if err != nil {
		return err
	}

	fmt.Println("\n📱 请使用微信扫描下方二维码并在手机上确认")
	if err := client.WeChatLogin(ctx); err != nil {
		return err
	}
	if err := client.EnsureSession(ctx); err != nil {
		return err
	}

	fmt.Printf("\n🎉 登录成功!\n")
	fmt.Printf("🍪 Cookie 已保存到: %s (%s)\n", cfg.Cookies.Path, cfg.Cookies.Backend)
	fmt.Println("\n🚀 现在可以启动 uestcauth 服务了!")
	return nil
}

// followRemote 订阅服务端的扫码登录事件，在本地终端显示二维码
func followRemote(ctx context.Context, server string) error {
	displayer := wechat.NewTerminalDisplayer(os.Stdout)

	fmt.Printf("🔗 连接服务: %s\n", server)
	_, err := stream.NewClient(server).Follow(ctx, func(e session.Event) error {
		switch e.Type {
		case session.EventQRCode:
			return displayer.Display(e.QRURL)
		case session.EventStatus:
			fmt.Printf("📣 扫码状态: %s\n", e.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n🎉 登录成功! 会话已保存在服务端\n")
	return nil
}
