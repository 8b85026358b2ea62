package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

var startedAt = time.Now()

// HealthHandler 健康检查处理器，不访问门户
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "uestcauth",
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(startedAt).Round(time.Second).String(),
	})
}

// RegisterHealthRoutes 注册健康检查路由
func RegisterHealthRoutes(r *gin.Engine) {
	r.GET("/health", HealthHandler)
}
