package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"uestcauth/internal/config"
	"uestcauth/internal/handlers"
	"uestcauth/internal/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose login, logout and session status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Get())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger("server")

	// 服务模式下二维码通过 WebSocket 推送，不在终端渲染
	client, closeStore, err := openClient(cfg, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	// 设置Gin模式
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Server.Mode != "production" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	handlers.RegisterHealthRoutes(r)
	handlers.RegisterSessionRoutes(r, handlers.NewSessionHandler(client))

	srv := &http.Server{
		Addr:        cfg.GetServerAddress(),
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	// 在goroutine中启动服务器
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", logger.Fields{
			"address":      srv.Addr,
			"mode":         cfg.Server.Mode,
			"cookie_store": cfg.Cookies.Backend,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 等待中断信号优雅关闭服务器
	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("Failed to start server", logger.Fields{"error": err.Error()})
			return err
		}
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Fields{"error": err.Error()})
	}
	if err := client.SaveCookies(shutdownCtx); err != nil {
		log.Warn("Failed to persist cookies on shutdown", logger.Fields{"error": err.Error()})
	}

	log.Info("Server exited")
	return nil
}
