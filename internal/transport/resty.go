package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
)

// DefaultUserAgent 与门户期望的浏览器指纹保持一致
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// browserHeaders 每个请求都携带的固定请求头
func browserHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "zh-CN,zh;q=0.9,en;q=0.8",
		"Upgrade-Insecure-Requests": "1",
		"sec-ch-ua":                 `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		"sec-ch-ua-mobile":          "?0",
		"sec-ch-ua-platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
	}
}

// Options RestyTransport 选项
type Options struct {
	Jar          http.CookieJar
	UserAgent    string
	Timeout      time.Duration // 单个请求的默认超时
	MaxRedirects int
}

// RestyTransport 基于 resty 的阻塞式实现
type RestyTransport struct {
	httpClient *resty.Client
	timeout    time.Duration
	logger     *logger.Logger
}

// NewRestyTransport 创建传输层，opts.Jar 为空时使用 resty 自带的 Cookie 容器
func NewRestyTransport(opts Options) *RestyTransport {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}

	transportLogger := logger.NewLogger("transport")

	httpClient := resty.New()
	httpClient.SetLogger(transportLogger.WithFields(logger.Fields{}))
	httpClient.SetHeaders(browserHeaders(opts.UserAgent))
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	if opts.Jar != nil {
		httpClient.SetCookieJar(opts.Jar)
	}

	// 请求日志，不记录表单内容
	httpClient.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		transportLogger.WithContext(req.Context()).WithFields(map[string]interface{}{
			"method": req.Method,
			"url":    req.URL,
		}).Debug("HTTP request")
		return nil
	})

	httpClient.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		fields := map[string]interface{}{
			"status": resp.StatusCode(),
			"size":   len(resp.Body()),
			"time":   resp.Time(),
		}
		if raw := resp.RawResponse; raw != nil && raw.Request != nil {
			fields["final_url"] = raw.Request.URL.String()
		}
		transportLogger.WithContext(resp.Request.Context()).WithFields(fields).Debug("HTTP response")
		return nil
	})

	transportLogger.Debug("Transport initialized", logger.Fields{
		"timeout":       opts.Timeout,
		"max_redirects": opts.MaxRedirects,
	})

	return &RestyTransport{
		httpClient: httpClient,
		timeout:    opts.Timeout,
		logger:     transportLogger,
	}
}

// Do 发送请求并跟随重定向，网络错误返回 KindNetwork
func (t *RestyTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := t.httpClient.R().SetContext(ctx)
	for key, values := range req.Header {
		r.Header.Del(key)
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	if len(req.Form) > 0 {
		r.SetFormDataFromValues(req.Form)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		authErr := errors.ErrNetwork(method, req.URL, err)
		if stderrors.Is(err, context.DeadlineExceeded) {
			authErr.Code = errors.ErrCodeNetworkTimeout
		}
		return nil, authErr
	}

	out := &Response{
		StatusCode: resp.StatusCode(),
		FinalURL:   req.URL,
		Body:       resp.Body(),
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil {
		out.FinalURL = raw.Request.URL.String()
		// 经过重定向时 http.Client 会在新请求上记录上一跳响应
		out.Redirected = raw.Request.Response != nil
	}
	return out, nil
}
