package wechat

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
)

var (
	errcodeRegex = regexp.MustCompile(`window\.wx_errcode=(\d+)`)
	wxCodeRegex  = regexp.MustCompile(`window\.wx_code=['"](.+?)['"]`)
)

// DefaultPollInterval 两次轮询之间的固定间隔
const DefaultPollInterval = 500 * time.Millisecond

// PollURL 构造长轮询地址；lastCode 非空时告知服务端已观察到该状态，等待下一次变化
func (e Endpoints) PollURL(uuid, lastCode string, now time.Time) string {
	u := strings.TrimRight(e.PollBase, "/") + "/connect/l/qrconnect?uuid=" + uuid +
		"&_=" + strconv.FormatInt(now.UnixMilli(), 10)
	if lastCode != "" {
		u += "&last=" + lastCode
	}
	return u
}

// BuildPollURL 使用默认地址和当前时间构造长轮询地址
func BuildPollURL(uuid, lastCode string) string {
	return DefaultEndpoints().PollURL(uuid, lastCode, time.Now())
}

// ParseScanStatus 解析长轮询响应中的 window.wx_errcode 与 window.wx_code
func ParseScanStatus(text string) (*ScanResult, error) {
	result := &ScanResult{Status: StatusUnknown}

	match := errcodeRegex.FindStringSubmatch(text)
	if match == nil {
		return result, nil
	}

	code, err := strconv.Atoi(match[1])
	if err != nil {
		return result, nil
	}
	result.Code = code

	switch code {
	case errcodeWaiting:
		result.Status = StatusWaiting
	case errcodeScanned:
		result.Status = StatusScanned
	case errcodeConfirmed:
		result.Status = StatusConfirmed
	case errcodeExpired:
		result.Status = StatusExpired
	}

	if result.Status == StatusConfirmed {
		m := wxCodeRegex.FindStringSubmatch(text)
		if m == nil {
			return nil, errors.ErrWeChat(errors.ErrCodeProtocol, "Scan confirmed but no wx_code in response")
		}
		result.WxCode = m[1]
	}

	return result, nil
}

// transitions 合法的状态迁移
var transitions = map[ScanStatus][]ScanStatus{
	StatusWaiting: {StatusWaiting, StatusScanned, StatusExpired},
	StatusScanned: {StatusScanned, StatusConfirmed, StatusExpired},
}

// Transition 判断 from -> to 是否为常规迁移，终止状态不再迁移。
// 轮询间隔内可能错过 Scanned，Run 对终止状态总是接受。
func Transition(from, to ScanStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Fetcher 执行一次有超时限制的轮询请求，返回响应正文
type Fetcher func(ctx context.Context, pollURL string) (string, error)

// Poller 扫码状态轮询器
type Poller struct {
	endpoints Endpoints
	fetch     Fetcher
	interval  time.Duration
	onStatus  func(ScanResult)
	now       func() time.Time
	logger    *logger.Logger
}

// PollerOption 轮询器选项
type PollerOption func(*Poller)

// WithInterval 设置轮询间隔
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithStatusHandler 状态变化回调，在轮询 goroutine 中同步调用
func WithStatusHandler(fn func(ScanResult)) PollerOption {
	return func(p *Poller) {
		p.onStatus = fn
	}
}

// WithEndpoints 替换开放平台地址
func WithEndpoints(e Endpoints) PollerOption {
	return func(p *Poller) {
		p.endpoints = e
	}
}

// NewPoller 创建状态轮询器
func NewPoller(fetch Fetcher, opts ...PollerOption) *Poller {
	p := &Poller{
		endpoints: DefaultEndpoints(),
		fetch:     fetch,
		interval:  DefaultPollInterval,
		now:       time.Now,
		logger:    logger.NewLogger("wechat-poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 轮询直到确认（返回授权码）或过期；没有内置总时长，取消由 ctx 控制
func (p *Poller) Run(ctx context.Context, uuid string) (string, error) {
	state := StatusWaiting
	lastCode := ""

	for {
		body, err := p.fetch(ctx, p.endpoints.PollURL(uuid, lastCode, p.now()))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", cancelled(ctxErr)
			}
			authErr := errors.ErrWeChat(errors.ErrCodePollingAborted, "Polling request failed").WithCause(err)
			p.logger.LogAuthError(authErr, "Aborting QR login polling")
			return "", authErr
		}

		result, err := ParseScanStatus(body)
		if err != nil {
			return "", err
		}

		switch {
		case result.Status == StatusUnknown:
			p.logger.WithContext(ctx).WithField("wx_errcode", result.Code).Warn("Unknown WeChat status code, continuing")
		case !Transition(state, result.Status) && !result.Status.Terminal():
			// 已扫码后服务端偶尔仍返回 408，保持 Scanned
			p.logger.WithContext(ctx).WithField("from", state.String()).
				WithField("to", result.Status.String()).Debug("Ignoring out-of-order scan status")
		default:
			if result.Status != state {
				p.logger.WithContext(ctx).WithField("status", result.Status.String()).Info("WeChat scan status changed")
				if p.onStatus != nil {
					p.onStatus(*result)
				}
			}
			state = result.Status
		}

		switch state {
		case StatusConfirmed:
			return result.WxCode, nil
		case StatusExpired:
			return "", errors.ErrWeChat(errors.ErrCodeQRExpired, "QR code expired")
		case StatusScanned:
			lastCode = strconv.Itoa(errcodeScanned)
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", cancelled(ctx.Err())
		case <-timer.C:
		}
	}
}

func cancelled(cause error) *errors.AuthError {
	return errors.ErrWeChat(errors.ErrCodePollingAborted, "QR login cancelled").WithCause(cause)
}
