package session

import (
	"context"
	"net/url"
	"strings"
	"time"

	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
	"uestcauth/internal/transport"
	"uestcauth/internal/wechat"
)

// EventType 扫码登录事件类型
type EventType string

const (
	EventQRCode EventType = "qrcode" // 二维码已生成
	EventStatus EventType = "status" // 扫码状态变化
	EventDone   EventType = "done"   // 登录成功
	EventError  EventType = "error"  // 登录失败
)

// Event 扫码登录过程中推送的事件
type Event struct {
	Type      EventType `json:"type"`
	AttemptID string    `json:"attempt_id"`
	QRURL     string    `json:"qr_url,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WeChatLogin 微信扫码登录，阻塞直到确认、过期或 ctx 取消
func (c *Client) WeChatLogin(ctx context.Context) error {
	return c.wechatLogin(withAttempt(ctx), nil)
}

func (c *Client) wechatLogin(ctx context.Context, emit func(Event)) error {
	if emit == nil {
		emit = func(Event) {}
	}
	if c.cfg.WeChatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WeChatTimeout)
		defer cancel()
	}
	log := c.logger.WithContext(ctx)
	attemptID := logger.AttemptIDFromContext(ctx)

	if c.IsSessionActive(ctx) {
		log.Info("Session already active, skipping WeChat login")
		return nil
	}

	log.Info("Starting WeChat QR login")

	resp, err := c.transport.Do(ctx, transport.Get(c.cfg.CombinedLoginURL))
	if err != nil {
		return c.fail(ctx, err, "Failed to open combined login")
	}
	if !c.onOpenPlatform(resp.FinalURL) {
		authErr := errors.ErrWeChat(errors.ErrCodeUnexpectedRoute, "Combined login did not redirect to WeChat open platform").
			WithDetails(resp.FinalURL)
		return c.fail(ctx, authErr, "Unexpected combined login route")
	}

	params, err := wechat.ParseAuthParams(resp.FinalURL)
	if err != nil {
		return c.fail(ctx, err, "Failed to extract OAuth parameters")
	}

	xmlResp, err := c.transport.Do(ctx, transport.Get(c.endpoints.QRXMLURL(params)))
	if err != nil {
		return c.fail(ctx, err, "Failed to fetch QR code")
	}
	qrUUID, err := wechat.ParseQRUUID(string(xmlResp.Body))
	if err != nil {
		return c.fail(ctx, err, "Failed to extract QR uuid")
	}

	qrURL := c.endpoints.ConfirmURL(qrUUID)
	emit(Event{Type: EventQRCode, AttemptID: attemptID, QRURL: qrURL, UUID: qrUUID, Timestamp: time.Now()})
	if c.displayer != nil {
		if err := c.displayer.Display(qrURL); err != nil {
			return c.fail(ctx, err, "Failed to display QR code")
		}
	}

	poller := wechat.NewPoller(c.fetchPoll,
		wechat.WithInterval(c.cfg.PollInterval),
		wechat.WithEndpoints(c.endpoints),
		wechat.WithStatusHandler(func(r wechat.ScanResult) {
			emit(Event{Type: EventStatus, AttemptID: attemptID, Status: r.String(), Timestamp: time.Now()})
		}),
	)
	wxCode, err := poller.Run(ctx, qrUUID)
	if err != nil {
		return c.fail(ctx, err, "QR login polling ended without confirmation")
	}

	// 跟随完整重定向链，确保回调过程中下发的 Cookie 全部写入容器
	cb, err := c.transport.Do(ctx, transport.Get(params.CallbackURL(wxCode)))
	if err != nil {
		return c.fail(ctx, err, "WeChat callback request failed")
	}
	if strings.Contains(cb.FinalURL, c.cfg.LoginPath()) {
		authErr := errors.ErrWeChat(errors.ErrCodeCallbackRejected, "Portal rejected WeChat callback").
			WithDetails(cb.FinalURL)
		return c.fail(ctx, authErr, "WeChat callback landed back on login page")
	}

	log.WithField("final_url", cb.FinalURL).Info("WeChat login succeeded")
	c.persist(ctx)
	return nil
}

// fetchPoll 单次长轮询，超时由 PollTimeout 限制
func (c *Client) fetchPoll(ctx context.Context, pollURL string) (string, error) {
	req := transport.Get(pollURL)
	req.Timeout = c.cfg.PollTimeout
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// onOpenPlatform 判断地址是否位于微信开放平台
func (c *Client) onOpenPlatform(rawURL string) bool {
	final, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	open, err := url.Parse(c.endpoints.OpenBase)
	if err != nil {
		return false
	}
	return strings.EqualFold(final.Host, open.Host)
}

// LoginAttempt 后台进行中的扫码登录
type LoginAttempt struct {
	ID string

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// StartWeChatLogin 在后台 goroutine 中执行扫码登录，通过 Events 推送进度
func (c *Client) StartWeChatLogin(ctx context.Context) *LoginAttempt {
	ctx, cancel := context.WithCancel(withAttempt(ctx))
	a := &LoginAttempt{
		ID:     logger.AttemptIDFromContext(ctx),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer cancel()
		err := c.wechatLogin(ctx, a.emit)
		if err != nil {
			a.emitFinal(Event{Type: EventError, AttemptID: a.ID, Message: err.Error(), Timestamp: time.Now()})
		} else {
			a.emitFinal(Event{Type: EventDone, AttemptID: a.ID, Timestamp: time.Now()})
		}
		a.err = err
		close(a.events)
		close(a.done)
	}()
	return a
}

// emit 非阻塞写入，消费者过慢时丢弃中间状态
func (a *LoginAttempt) emit(e Event) {
	select {
	case a.events <- e:
	default:
		logger.NewLogger("session").WithField("attempt_id", a.ID).
			WithField("event", string(e.Type)).Warn("Dropping login event, consumer too slow")
	}
}

// emitFinal 写入结束事件；缓冲区满时挤掉最早的中间事件，保证结束事件总是最后一个
func (a *LoginAttempt) emitFinal(e Event) {
	for {
		select {
		case a.events <- e:
			return
		default:
		}
		select {
		case dropped := <-a.events:
			logger.NewLogger("session").WithField("attempt_id", a.ID).
				WithField("event", string(dropped.Type)).Warn("Dropping login event to deliver final result")
		default:
		}
	}
}

// Events 事件流，尝试结束后关闭
func (a *LoginAttempt) Events() <-chan Event {
	return a.events
}

// Wait 等待尝试结束并返回结果
func (a *LoginAttempt) Wait() error {
	<-a.done
	return a.err
}

// Done 尝试结束时关闭
func (a *LoginAttempt) Done() <-chan struct{} {
	return a.done
}

// Cancel 取消尝试
func (a *LoginAttempt) Cancel() {
	a.cancel()
}
