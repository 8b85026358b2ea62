package session

import (
	"context"
	"net/http"
	"net/url"

	"uestcauth/internal/transport"
)

// 以下方法直接交给传输层，与登录流程共享同一个 Cookie 容器

// Do 发送任意请求
func (c *Client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return c.transport.Do(ctx, req)
}

func (c *Client) Get(ctx context.Context, rawURL string) (*transport.Response, error) {
	return c.Do(ctx, transport.Get(rawURL))
}

func (c *Client) Head(ctx context.Context, rawURL string) (*transport.Response, error) {
	return c.Do(ctx, &transport.Request{Method: http.MethodHead, URL: rawURL})
}

func (c *Client) Delete(ctx context.Context, rawURL string) (*transport.Response, error) {
	return c.Do(ctx, &transport.Request{Method: http.MethodDelete, URL: rawURL})
}

func (c *Client) Post(ctx context.Context, rawURL string, form url.Values) (*transport.Response, error) {
	return c.Do(ctx, transport.PostForm(rawURL, form))
}

func (c *Client) Put(ctx context.Context, rawURL string, form url.Values) (*transport.Response, error) {
	return c.Do(ctx, &transport.Request{Method: http.MethodPut, URL: rawURL, Form: form})
}

func (c *Client) Patch(ctx context.Context, rawURL string, form url.Values) (*transport.Response, error) {
	return c.Do(ctx, &transport.Request{Method: http.MethodPatch, URL: rawURL, Form: form})
}
