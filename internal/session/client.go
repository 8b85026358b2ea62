package session

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"uestcauth/internal/config"
	"uestcauth/internal/cookies"
	"uestcauth/internal/crypto"
	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
	"uestcauth/internal/scraper"
	"uestcauth/internal/transport"
	"uestcauth/internal/wechat"
)

// Client 统一身份认证会话客户端，独占一个 Cookie 容器
type Client struct {
	cfg        config.PortalConfig
	transport  transport.Transport
	jar        *cookies.Jar
	store      cookies.Store
	cookieOpts cookies.Options
	displayer  wechat.Displayer
	endpoints  wechat.Endpoints
	logger     *logger.Logger

	displayerSet bool
	saveMu       sync.Mutex
}

// Option 客户端选项
type Option func(*Client)

// WithTransport 替换传输层，调用方需保证其使用同一个 Cookie 容器
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithJar 使用已有的 Cookie 容器
func WithJar(jar *cookies.Jar) Option {
	return func(c *Client) {
		c.jar = jar
	}
}

// WithStore 设置 Cookie 持久化后端；未设置时不做持久化
func WithStore(store cookies.Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithCookieOptions 设置持久化选项，FallbackDomain 为空时使用认证服务器主机名
func WithCookieOptions(opts cookies.Options) Option {
	return func(c *Client) {
		c.cookieOpts = opts
	}
}

// WithDisplayer 设置二维码展示方式，nil 表示不展示（例如通过事件推送给前端）
func WithDisplayer(d wechat.Displayer) Option {
	return func(c *Client) {
		c.displayer = d
		c.displayerSet = true
	}
}

// WithLogger 替换日志器
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New 创建会话客户端。设置了 Store 且未提供 Jar 时从后端恢复 Cookie。
func New(cfg config.PortalConfig, opts ...Option) (*Client, error) {
	if err := config.ValidatePortal(cfg); err != nil {
		return nil, errors.ErrClientInit("invalid portal configuration", err)
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.NewLogger("session")
	}
	if c.cookieOpts.FallbackDomain == "" {
		c.cookieOpts.FallbackDomain = cfg.IdentityHost()
	}
	if c.jar == nil {
		if c.store != nil {
			c.jar = cookies.Load(context.Background(), c.store, c.cookieOpts)
		} else {
			c.jar = cookies.NewJar()
		}
	}
	if c.transport == nil {
		c.transport = transport.NewRestyTransport(transport.Options{
			Jar:          c.jar,
			UserAgent:    cfg.UserAgent,
			Timeout:      cfg.RequestTimeout,
			MaxRedirects: cfg.MaxRedirects,
		})
	}
	if !c.displayerSet {
		c.displayer = wechat.NewTerminalDisplayer(os.Stdout)
	}
	c.endpoints = wechat.Endpoints{OpenBase: cfg.WeChatOpenURL, PollBase: cfg.WeChatPollURL}

	c.logger.Info("Session client initialized", logger.Fields{
		"login_url":      cfg.LoginURL,
		"cookies":        c.jar.Len(),
		"persist_cookie": c.store != nil,
	})
	return c, nil
}

// Jar 返回客户端持有的 Cookie 容器
func (c *Client) Jar() *cookies.Jar {
	return c.jar
}

// withAttempt 为一次登录尝试分配 ID，已有 ID 时沿用
func withAttempt(ctx context.Context) context.Context {
	if logger.AttemptIDFromContext(ctx) != "" {
		return ctx
	}
	return logger.ContextWithAttemptID(ctx, uuid.NewString())
}

// Login 用户名密码登录，会话已有效时直接返回
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" {
		return errors.ErrValidationFailed("username", "cannot be empty")
	}
	if password == "" {
		return errors.ErrValidationFailed("password", "cannot be empty")
	}

	ctx = withAttempt(ctx)
	log := c.logger.WithContext(ctx)

	if c.IsSessionActive(ctx) {
		log.Info("Session already active, skipping password login")
		return nil
	}

	log.Info("Starting password login")

	page, err := c.transport.Do(ctx, transport.Get(c.cfg.LoginURL))
	if err != nil {
		return c.fail(ctx, err, "Failed to fetch login page")
	}

	info, err := scraper.ParseLoginPage(string(page.Body))
	if err != nil {
		return c.fail(ctx, err, "Failed to parse login page")
	}
	if info.Execution() == "" {
		log.Warn("Login page carries no execution field, submitting without it")
	}

	encrypted, err := crypto.EncryptPassword(password, info.PwdEncryptSalt)
	if err != nil {
		return c.fail(ctx, err, "Failed to encrypt password")
	}

	form := url.Values{}
	for k, v := range info.FormData {
		form.Set(k, v)
	}
	form.Set("username", username)
	form.Set("password", encrypted)

	resp, err := c.transport.Do(ctx, transport.PostForm(c.cfg.LoginURL, form))
	if err != nil {
		return c.fail(ctx, err, "Failed to submit login form")
	}

	if (resp.Redirected || resp.Success()) && !strings.Contains(resp.FinalURL, c.cfg.LoginPath()) {
		log.WithField("final_url", resp.FinalURL).Info("Password login succeeded")
		c.persist(ctx)
		return nil
	}

	msg := scraper.ExtractErrorMessage(string(resp.Body))
	if msg == "" {
		msg = fmt.Sprintf("login failed with status %d", resp.StatusCode)
	}
	return c.fail(ctx, errors.ErrLoginFailed(msg), "Portal rejected password login")
}

// Logout 注销会话，成功后清空 Cookie 并删除持久化内容
func (c *Client) Logout(ctx context.Context) error {
	ctx = withAttempt(ctx)

	resp, err := c.transport.Do(ctx, transport.Get(c.cfg.LogoutURL))
	if err != nil {
		return c.fail(ctx, err, "Logout request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return c.fail(ctx, errors.ErrLogoutFailed(fmt.Sprintf("logout failed with status %d", resp.StatusCode)), "Portal rejected logout")
	}

	c.jar.Clear()
	if c.store != nil {
		c.saveMu.Lock()
		err := c.store.Remove(ctx)
		c.saveMu.Unlock()
		if authErr, ok := errors.As(err); ok {
			c.logger.LogAuthError(authErr, "Failed to remove persisted cookies")
		}
	}

	c.logger.WithContext(ctx).Info("Logged out")
	return nil
}

// IsSessionActive 访问登录地址，被重定向到个人中心即视为已登录。
// 任何错误都只返回 false。
func (c *Client) IsSessionActive(ctx context.Context) bool {
	resp, err := c.transport.Do(ctx, transport.Get(c.cfg.LoginURL))
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("Session check failed")
		return false
	}

	if resp.FinalURL != c.cfg.PersonalCenterURL {
		c.logger.WithContext(ctx).WithField("final_url", resp.FinalURL).Debug("Session not active")
		return false
	}

	c.persist(ctx)
	return true
}

// EnsureSession 会话无效时返回 KindSessionExpired
func (c *Client) EnsureSession(ctx context.Context) error {
	if !c.IsSessionActive(ctx) {
		return errors.ErrSessionExpired()
	}
	return nil
}

// SaveCookies 立即将 Cookie 写入持久化后端
func (c *Client) SaveCookies(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return cookies.Save(ctx, c.jar, c.store, c.cookieOpts)
}

// persist 尽力保存，失败只记录日志
func (c *Client) persist(ctx context.Context) {
	if err := c.SaveCookies(ctx); err != nil {
		if authErr, ok := errors.As(err); ok {
			c.logger.LogAuthError(authErr, "Failed to persist cookies")
			return
		}
		c.logger.WithContext(ctx).WithError(err).Error("Failed to persist cookies")
	}
}

// fail 记录错误并原样返回
func (c *Client) fail(ctx context.Context, err error, message string) error {
	entry := c.logger.WithError(err)
	if id := logger.AttemptIDFromContext(ctx); id != "" {
		entry = entry.WithField("attempt_id", id)
	}
	if authErr, ok := errors.As(err); ok {
		switch authErr.Kind {
		case errors.KindNetwork, errors.KindCookie, errors.KindClientInit:
			entry.Error(message)
		default:
			entry.Warn(message)
		}
		return err
	}
	entry.Error(message)
	return err
}
