package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
	"uestcauth/internal/session"
)

// Authenticator 会话操作接口，由 session.Client 实现
type Authenticator interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	IsSessionActive(ctx context.Context) bool
	StartWeChatLogin(ctx context.Context) *session.LoginAttempt
}

// SessionHandler 登录相关API处理器
type SessionHandler struct {
	auth         Authenticator
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *logger.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(auth Authenticator) *SessionHandler {
	return &SessionHandler{
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: 10 * time.Second,
		logger:       logger.NewLogger("session-handler"),
	}
}

// LoginRequest 密码登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionStatusResponse 会话状态响应
type SessionStatusResponse struct {
	Success   bool      `json:"success"`
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionResponse 登录/注销结果
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Status 查询会话是否有效
// @Router /api/v1/session [get]
func (h *SessionHandler) Status(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	c.JSON(http.StatusOK, SessionStatusResponse{
		Success:   true,
		Active:    h.auth.IsSessionActive(c.Request.Context()),
		Timestamp: time.Now(),
	})
}

// Login 用户名密码登录
// @Router /api/v1/login [post]
func (h *SessionHandler) Login(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid login request", logger.Fields{
			"error": err.Error(),
		})
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Message: "Invalid request parameters: " + err.Error(),
			Code:    string(errors.ErrCodeValidationFailed),
		})
		return
	}

	if err := h.auth.Login(c.Request.Context(), req.Username, req.Password); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Password login completed via API")
	c.JSON(http.StatusOK, ActionResponse{Success: true})
}

// Logout 注销会话
// @Router /api/v1/logout [post]
func (h *SessionHandler) Logout(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if err := h.auth.Logout(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ActionResponse{Success: true})
}

// WeChatStream 通过 WebSocket 推送扫码登录事件，客户端断开即取消本次尝试
// @Router /api/v1/wechat/ws [get]
func (h *SessionHandler) WeChatStream(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.logger.Warn("WebSocket upgrade failed", logger.Fields{
			"error": err.Error(),
		})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempt := h.auth.StartWeChatLogin(ctx)
	log := h.logger.WithFields(logger.Fields{"attempt_id": attempt.ID})
	log.Info("WeChat login stream opened")

	// 只读取控制帧，读失败说明客户端已断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				attempt.Cancel()
				return
			}
		}
	}()

	for event := range attempt.Events() {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			log.WithError(err).Warn("Failed to push login event, cancelling attempt")
			attempt.Cancel()
		}
	}

	if err := attempt.Wait(); err != nil {
		log.WithError(err).Info("WeChat login stream finished with error")
	} else {
		log.Info("WeChat login stream finished")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attempt finished"))
}

func (h *SessionHandler) ready(c *gin.Context) bool {
	if h.auth == nil {
		h.logger.Error("Session client is not initialized")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Message: "Session client is not available",
		})
		return false
	}
	return true
}

func (h *SessionHandler) respondError(c *gin.Context, err error) {
	status := StatusForError(err)
	resp := ErrorResponse{Success: false, Message: err.Error()}
	if authErr, ok := errors.As(err); ok {
		resp.Code = string(authErr.Code)
		if authErr.Details != "" {
			resp.Message = authErr.Details
		}
	}

	h.logger.WithError(err).WithField("status", status).Warn("Session operation failed")
	c.JSON(status, resp)
}

// StatusForError 将错误类型映射为 HTTP 状态码
func StatusForError(err error) int {
	authErr, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch authErr.Kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindLoginFailed, errors.KindSessionExpired:
		return http.StatusUnauthorized
	case errors.KindNetwork, errors.KindHTMLParse, errors.KindXMLParse, errors.KindCrypto,
		errors.KindLogoutFailed, errors.KindWeChat:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RegisterSessionRoutes 注册会话路由
func RegisterSessionRoutes(r *gin.Engine, h *SessionHandler) {
	v1 := r.Group("/api/v1")
	v1.GET("/session", h.Status)
	v1.POST("/login", h.Login)
	v1.POST("/logout", h.Logout)
	v1.GET("/wechat/ws", h.WeChatStream)
}
