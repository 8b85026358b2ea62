package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"uestcauth/internal/errors"
)

// Logger 标准化日志器
type Logger struct {
	*logrus.Logger
	component string
}

// Fields 日志字段类型
type Fields map[string]interface{}

type attemptIDKey struct{}

// ContextWithAttemptID 将登录尝试ID写入上下文
func ContextWithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, attemptIDKey{}, attemptID)
}

// AttemptIDFromContext 读取登录尝试ID
func AttemptIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(attemptIDKey{}).(string)
	return id
}

// sensitiveKeys 这些字段的值在输出前被替换
var sensitiveKeys = map[string]bool{
	"password":       true,
	"pwd":            true,
	"salt":           true,
	"pwdEncryptSalt": true,
	"cookie":         true,
	"CASTGC":         true,
}

const redacted = "[REDACTED]"

// redactHook 屏蔽口令与票据
type redactHook struct{}

func (redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactHook) Fire(e *logrus.Entry) error {
	for k := range e.Data {
		if sensitiveKeys[k] {
			e.Data[k] = redacted
		}
	}
	return nil
}

func newBase() *logrus.Logger {
	base := logrus.New()
	base.AddHook(redactHook{})
	return base
}

var (
	// 全局默认日志器
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// InitLogger 初始化日志系统
func InitLogger(level string, format string, output string, component string) (*Logger, error) {
	logger := newBase()

	// 设置日志级别
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// 设置输出格式
	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	// 设置输出目标
	switch output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// 确保日志目录存在
		logDir := filepath.Dir(output)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, errors.ErrConfigInvalid("log directory", err.Error()).WithCause(err)
		}

		// 按大小滚动，保留最近的备份
		logger.SetOutput(&lumberjack.Logger{
			Filename:   output,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     30, // 天
		})
	}

	authLogger := &Logger{
		Logger:    logger,
		component: component,
	}

	// 设置为默认日志器
	defaultMu.Lock()
	defaultLogger = authLogger
	defaultMu.Unlock()

	return authLogger, nil
}

// GetDefaultLogger 获取默认日志器
func GetDefaultLogger() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		// 未初始化时使用 Info 级别的文本输出
		defaultLogger = &Logger{Logger: newBase(), component: "default"}
	}
	return defaultLogger
}

// NewLogger 创建新的组件日志器
func NewLogger(component string) *Logger {
	base := GetDefaultLogger()
	return &Logger{
		Logger:    base.Logger,
		component: component,
	}
}

// WithFields 添加字段
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.entry([]Fields{fields})
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *logrus.Entry {
	entry := l.entry(nil)

	if authErr, ok := errors.As(err); ok {
		fields := logrus.Fields{
			"error_kind":    authErr.Kind,
			"error_code":    authErr.Code,
			"error_details": authErr.Details,
		}
		if authErr.Field != "" {
			fields["error_field"] = authErr.Field
		}
		if authErr.Op != "" {
			fields["error_op"] = authErr.Op
		}
		if authErr.Context != nil {
			fields["error_context"] = authErr.Context
		}
		if authErr.Cause != nil {
			fields["error_cause"] = authErr.Cause.Error()
		}
		return entry.WithFields(fields)
	}

	return entry.WithError(err)
}

// WithContext 从上下文中提取信息
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.entry(nil)
	if id := AttemptIDFromContext(ctx); id != "" {
		entry = entry.WithField("attempt_id", id)
	}
	return entry
}

// LogAuthError 按错误类型选择日志级别
func (l *Logger) LogAuthError(err *errors.AuthError, message string) {
	entry := l.WithError(err)

	switch err.Kind {
	case errors.KindNetwork, errors.KindCookie, errors.KindConfig, errors.KindClientInit:
		entry.Error(message)
	case errors.KindLoginFailed, errors.KindLogoutFailed, errors.KindValidation,
		errors.KindWeChat, errors.KindSessionExpired:
		entry.Warn(message)
	default:
		entry.Error(message)
	}
}

func (l *Logger) entry(fields []Fields) *logrus.Entry {
	e := l.Logger.WithField("component", l.component)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields[0]))
	}
	return e
}

// Debug 调试日志
func (l *Logger) Debug(msg string, fields ...Fields) { l.entry(fields).Debug(msg) }

// Info 信息日志
func (l *Logger) Info(msg string, fields ...Fields) { l.entry(fields).Info(msg) }

// Warn 警告日志
func (l *Logger) Warn(msg string, fields ...Fields) { l.entry(fields).Warn(msg) }

// Error 错误日志
func (l *Logger) Error(msg string, fields ...Fields) { l.entry(fields).Error(msg) }

// Fatal 致命错误日志
func (l *Logger) Fatal(msg string, fields ...Fields) { l.entry(fields).Fatal(msg) }

// 全局便捷函数

// Debug 全局调试日志
func Debug(msg string, fields ...Fields) {
	GetDefaultLogger().Debug(msg, fields...)
}

// Info 全局信息日志
func Info(msg string, fields ...Fields) {
	GetDefaultLogger().Info(msg, fields...)
}

// Warn 全局警告日志
func Warn(msg string, fields ...Fields) {
	GetDefaultLogger().Warn(msg, fields...)
}

// Error 全局错误日志
func Error(msg string, fields ...Fields) {
	GetDefaultLogger().Error(msg, fields...)
}

// Fatal 全局致命错误日志
func Fatal(msg string, fields ...Fields) {
	GetDefaultLogger().Fatal(msg, fields...)
}

// LogError 记录错误，AuthError 按类型选择级别
func LogError(err error, msg string, fields ...Fields) {
	l := GetDefaultLogger()
	if authErr, ok := errors.As(err); ok {
		l.LogAuthError(authErr, msg)
		return
	}
	entry := l.WithError(err)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields[0]))
	}
	entry.Error(msg)
}