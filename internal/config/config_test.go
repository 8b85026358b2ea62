package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uestcauth/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigLoad(t *testing.T) {
	// 保存原始globalConfig并在测试后恢复
	originalConfig := globalConfig
	defer func() {
		globalConfig = originalConfig
	}()

	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 9090
  mode: "production"

portal:
  login_url: "https://idas.example.edu.cn/authserver/login"
  poll_interval: "250ms"
  wechat_timeout: "3m"

cookies:
  backend: "sqlite"
  path: "./cookies.db"
  persist_expiry: true

logging:
  level: "debug"
  format: "json"
`)

	config, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, config)

	// 验证服务器配置
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "production", config.Server.Mode)
	assert.Equal(t, "0.0.0.0:9090", config.GetServerAddress())

	// 验证门户配置，未填写的键回落到默认值
	assert.Equal(t, "https://idas.example.edu.cn/authserver/login", config.Portal.LoginURL)
	assert.Equal(t, DefaultPortal().LogoutURL, config.Portal.LogoutURL)
	assert.Equal(t, 250*time.Millisecond, config.Portal.PollInterval)
	assert.Equal(t, 30*time.Second, config.Portal.PollTimeout)
	assert.Equal(t, 3*time.Minute, config.Portal.WeChatTimeout)
	assert.Equal(t, "/authserver/login", config.Portal.LoginPath())
	assert.Equal(t, "idas.example.edu.cn", config.Portal.IdentityHost())

	// 验证Cookie配置
	assert.Equal(t, "sqlite", config.Cookies.Backend)
	assert.Equal(t, "./cookies.db", config.Cookies.Path)
	assert.True(t, config.Cookies.PersistExpiry)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Same(t, config, Get())
}

func TestConfigLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		code   errors.ErrorCode
	}{
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 70000 },
			code:   errors.ErrCodeConfigInvalid,
		},
		{
			name:   "invalid mode",
			mutate: func(c *Config) { c.Server.Mode = "staging" },
			code:   errors.ErrCodeConfigInvalid,
		},
		{
			name:   "missing login url",
			mutate: func(c *Config) { c.Portal.LoginURL = "" },
			code:   errors.ErrCodeConfigMissing,
		},
		{
			name:   "relative logout url",
			mutate: func(c *Config) { c.Portal.LogoutURL = "/authserver/logout" },
			code:   errors.ErrCodeConfigInvalid,
		},
		{
			name:   "zero poll interval",
			mutate: func(c *Config) { c.Portal.PollInterval = 0 },
			code:   errors.ErrCodeConfigInvalid,
		},
		{
			name:   "negative wechat timeout",
			mutate: func(c *Config) { c.Portal.WeChatTimeout = -time.Second },
			code:   errors.ErrCodeConfigInvalid,
		},
		{
			name:   "unknown cookie backend",
			mutate: func(c *Config) { c.Cookies.Backend = "redis" },
			code:   errors.ErrCodeConfigInvalid,
		},
		{
			name:   "empty cookie path",
			mutate: func(c *Config) { c.Cookies.Path = "" },
			code:   errors.ErrCodeConfigMissing,
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "trace" },
			code:   errors.ErrCodeConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
		})
	}

	assert.Nil(t, Validate(Default()))
}

func TestCookiePathEnvironmentOverride(t *testing.T) {
	originalConfig := globalConfig
	defer func() {
		globalConfig = originalConfig
	}()

	t.Setenv("UESTCAUTH_COOKIE_FILE", "/tmp/override.json")
	path := writeConfig(t, "cookies:\n  path: \"./file.json\"\n")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.json", config.Cookies.Path)
}
