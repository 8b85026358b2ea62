package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Request 一次 HTTP 请求
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Form    url.Values    // 非空时以 application/x-www-form-urlencoded 提交
	Timeout time.Duration // 0 使用传输层默认超时
}

// Response 跟随重定向后的最终响应
type Response struct {
	StatusCode int
	FinalURL   string
	Body       []byte
	Redirected bool
}

// Success 2xx
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport 发送请求并返回最终响应，协议逻辑只依赖该接口
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Func 适配普通函数
type Func func(ctx context.Context, req *Request) (*Response, error)

// Do 实现 Transport
func (f Func) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Result 异步请求结果
type Result struct {
	Response *Response
	Err      error
}

// Go 在独立 goroutine 中执行请求，结果写入容量为 1 的 channel 后关闭
func Go(ctx context.Context, t Transport, req *Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		resp, err := t.Do(ctx, req)
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// Get 构造 GET 请求
func Get(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL}
}

// PostForm 构造表单 POST 请求
func PostForm(rawURL string, form url.Values) *Request {
	return &Request{Method: http.MethodPost, URL: rawURL, Form: form}
}
