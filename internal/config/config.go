package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
)

// Config 应用配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Portal  PortalConfig  `mapstructure:"portal"`
	Cookies CookieConfig  `mapstructure:"cookies"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PortalConfig 统一身份认证门户配置
type PortalConfig struct {
	LoginURL          string        `mapstructure:"login_url"`
	LogoutURL         string        `mapstructure:"logout_url"`
	PersonalCenterURL string        `mapstructure:"personal_center_url"`
	CombinedLoginURL  string        `mapstructure:"combined_login_url"`
	WeChatOpenURL     string        `mapstructure:"wechat_open_url"`
	WeChatPollURL     string        `mapstructure:"wechat_poll_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	WeChatTimeout     time.Duration `mapstructure:"wechat_timeout"` // 0 表示不设总超时，由调用方取消
	MaxRedirects      int           `mapstructure:"max_redirects"`
}

// CookieConfig Cookie持久化配置
type CookieConfig struct {
	Backend       string `mapstructure:"backend"` // file | sqlite
	Path          string `mapstructure:"path"`
	PersistExpiry bool   `mapstructure:"persist_expiry"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

var (
	globalConfig *Config
	configLogger *logger.Logger
)

// DefaultPortal 返回电子科技大学统一身份认证的默认地址
func DefaultPortal() PortalConfig {
	return PortalConfig{
		LoginURL:          "https://idas.uestc.edu.cn/authserver/login",
		LogoutURL:         "https://idas.uestc.edu.cn/authserver/logout",
		PersonalCenterURL: "https://idas.uestc.edu.cn/personalInfo/personCenter/index.html",
		CombinedLoginURL:  "https://idas.uestc.edu.cn/authserver/combinedLogin.do?type=weixin",
		WeChatOpenURL:     "https://open.weixin.qq.com",
		WeChatPollURL:     "https://lp.open.weixin.qq.com",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		RequestTimeout:    15 * time.Second,
		PollTimeout:       30 * time.Second,
		PollInterval:      500 * time.Millisecond,
		MaxRedirects:      10,
	}
}

// Default 返回完整默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			Mode:            "development",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Portal: DefaultPortal(),
		Cookies: CookieConfig{
			Backend: "file",
			Path:    "uestc_cookies.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load 加载配置文件，未出现的键使用默认值
func Load(configPath string) (*Config, error) {
	configLogger = logger.NewLogger("config")

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置环境变量前缀
	v.SetEnvPrefix("UESTCAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configLogger.Info("Loading configuration", logger.Fields{
		"config_path": configPath,
	})

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		authErr := errors.ErrConfigInvalid("config_file", err.Error()).
			WithCause(err).
			WithContext(map[string]interface{}{
				"config_path": configPath,
			})
		configLogger.LogAuthError(authErr, "Failed to read configuration file")
		return nil, authErr
	}

	// 解析配置到结构体
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		authErr := errors.ErrConfigInvalid("config_unmarshal", err.Error()).
			WithCause(err)
		configLogger.LogAuthError(authErr, "Failed to unmarshal configuration")
		return nil, authErr
	}

	processEnvironmentOverrides(config)

	// 验证配置
	if err := Validate(config); err != nil {
		configLogger.LogAuthError(err, "Configuration validation failed")
		return nil, err
	}

	globalConfig = config
	configLogger.Info("Configuration loaded successfully", logger.Fields{
		"server_port":    config.Server.Port,
		"cookie_backend": config.Cookies.Backend,
		"cookie_path":    config.Cookies.Path,
		"login_url":      config.Portal.LoginURL,
	})

	return config, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("portal.login_url", d.Portal.LoginURL)
	v.SetDefault("portal.logout_url", d.Portal.LogoutURL)
	v.SetDefault("portal.personal_center_url", d.Portal.PersonalCenterURL)
	v.SetDefault("portal.combined_login_url", d.Portal.CombinedLoginURL)
	v.SetDefault("portal.wechat_open_url", d.Portal.WeChatOpenURL)
	v.SetDefault("portal.wechat_poll_url", d.Portal.WeChatPollURL)
	v.SetDefault("portal.user_agent", d.Portal.UserAgent)
	v.SetDefault("portal.request_timeout", d.Portal.RequestTimeout)
	v.SetDefault("portal.poll_timeout", d.Portal.PollTimeout)
	v.SetDefault("portal.poll_interval", d.Portal.PollInterval)
	v.SetDefault("portal.wechat_timeout", d.Portal.WeChatTimeout)
	v.SetDefault("portal.max_redirects", d.Portal.MaxRedirects)

	v.SetDefault("cookies.backend", d.Cookies.Backend)
	v.SetDefault("cookies.path", d.Cookies.Path)
	v.SetDefault("cookies.persist_expiry", d.Cookies.PersistExpiry)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Validate 验证配置的有效性
func Validate(config *Config) *errors.AuthError {
	// 验证服务器配置
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return errors.ErrConfigInvalid("server.port", "must be between 1 and 65535")
	}

	if config.Server.Mode != "development" && config.Server.Mode != "production" {
		return errors.ErrConfigInvalid("server.mode", "must be 'development' or 'production'")
	}

	// 验证门户配置
	if err := ValidatePortal(config.Portal); err != nil {
		return err
	}

	// 验证Cookie配置
	if config.Cookies.Backend != "file" && config.Cookies.Backend != "sqlite" {
		return errors.ErrConfigInvalid("cookies.backend", "must be 'file' or 'sqlite'")
	}

	if config.Cookies.Path == "" {
		return errors.ErrConfigMissing("cookies.path")
	}

	// 验证日志配置
	validLogLevels := []string{"debug", "info", "warn", "error"}
	isValidLevel := false
	for _, level := range validLogLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return errors.ErrConfigInvalid("logging.level", "must be one of: debug, info, warn, error")
	}

	return nil
}

// ValidatePortal 验证门户地址与超时设置
func ValidatePortal(p PortalConfig) *errors.AuthError {
	urls := map[string]string{
		"portal.login_url":           p.LoginURL,
		"portal.logout_url":          p.LogoutURL,
		"portal.personal_center_url": p.PersonalCenterURL,
		"portal.combined_login_url":  p.CombinedLoginURL,
		"portal.wechat_open_url":     p.WeChatOpenURL,
		"portal.wechat_poll_url":     p.WeChatPollURL,
	}
	for key, raw := range urls {
		if raw == "" {
			return errors.ErrConfigMissing(key)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.ErrConfigInvalid(key, "must be an absolute URL")
		}
	}

	if p.RequestTimeout <= 0 {
		return errors.ErrConfigInvalid("portal.request_timeout", "must be greater than 0")
	}
	if p.PollTimeout <= 0 {
		return errors.ErrConfigInvalid("portal.poll_timeout", "must be greater than 0")
	}
	if p.PollInterval <= 0 {
		return errors.ErrConfigInvalid("portal.poll_interval", "must be greater than 0")
	}
	if p.WeChatTimeout < 0 {
		return errors.ErrConfigInvalid("portal.wechat_timeout", "must not be negative")
	}
	return nil
}

// processEnvironmentOverrides 处理环境变量覆盖
func processEnvironmentOverrides(config *Config) {
	if path := os.Getenv("UESTCAUTH_COOKIE_FILE"); path != "" {
		config.Cookies.Path = path
		configLogger.Debug("Cookie path loaded from environment variable")
	}
}

// LoginPath 返回登录地址的路径部分，用于判断是否仍停留在登录页
func (p PortalConfig) LoginPath() string {
	u, err := url.Parse(p.LoginURL)
	if err != nil {
		return p.LoginURL
	}
	return u.Path
}

// IdentityHost 返回认证服务器主机名
func (p PortalConfig) IdentityHost() string {
	u, err := url.Parse(p.LoginURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		return Default()
	}
	return globalConfig
}

// GetServerAddress 获取服务器地址
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
