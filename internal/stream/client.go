package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
	"uestcauth/internal/session"
)

// StreamPath 服务端扫码登录事件推送路径
const StreamPath = "/api/v1/wechat/ws"

// EventHandler 事件处理函数，返回错误时中止跟随
type EventHandler func(session.Event) error

// Client 订阅运行中的 uestcauth 服务的扫码登录事件
type Client struct {
	serverURL        string
	handshakeTimeout time.Duration
	logger           *logger.Logger
}

// NewClient 创建事件流客户端，serverURL 可以是 http(s) 或 ws(s) 地址
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL:        serverURL,
		handshakeTimeout: 10 * time.Second,
		logger:           logger.NewLogger("stream-client"),
	}
}

// Follow 发起一次远程扫码登录并逐个处理事件，直到服务端关闭连接
// 返回最后一个事件；尝试失败时返回 KindWeChat 错误
func (c *Client) Follow(ctx context.Context, handler EventHandler) (session.Event, error) {
	var last session.Event

	wsURL, err := c.buildWebSocketURL()
	if err != nil {
		return last, errors.ErrWeChat(errors.ErrCodeInvalidURL, "Invalid stream server URL").
			WithCause(err).WithDetails(c.serverURL)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	c.logger.Info("Connecting to login event stream", logger.Fields{"url": wsURL})

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		authErr := errors.ErrNetwork("GET", wsURL, err)
		c.logger.LogAuthError(authErr, "Event stream connection failed")
		return last, authErr
	}
	defer conn.Close()

	// ctx 取消时关闭连接以打断阻塞的读取，服务端随之取消尝试
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return last, errors.ErrWeChat(errors.ErrCodePollingAborted, "Login attempt cancelled").
					WithCause(ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return last, c.outcome(last)
			}
			authErr := errors.ErrNetwork("GET", wsURL, err)
			c.logger.LogAuthError(authErr, "Event stream read failed")
			return last, authErr
		}

		// 只处理文本消息
		if messageType != websocket.TextMessage {
			continue
		}

		var event session.Event
		if err := json.Unmarshal(message, &event); err != nil {
			return last, errors.ErrWeChat(errors.ErrCodeProtocol, "Malformed login event").
				WithCause(err).WithDetails(string(message))
		}
		last = event

		c.logger.Debug("Received login event", logger.Fields{
			"type":       string(event.Type),
			"attempt_id": event.AttemptID,
		})

		if handler != nil {
			if err := handler(event); err != nil {
				return last, err
			}
		}
	}
}

func (c *Client) outcome(last session.Event) error {
	switch last.Type {
	case session.EventDone:
		return nil
	case session.EventError:
		return errors.ErrWeChat(errors.ErrCodePollingAborted, "Remote login attempt failed").
			WithDetails(last.Message)
	default:
		return errors.ErrWeChat(errors.ErrCodeProtocol, "Event stream closed before attempt finished")
	}
}

// buildWebSocketURL 构造WebSocket URL，未指定路径时使用默认推送路径
func (c *Client) buildWebSocketURL() (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", err
	}

	// 确保是WebSocket协议
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if strings.Trim(u.Path, "/") == "" {
		u.Path = StreamPath
	}
	return u.String(), nil
}
