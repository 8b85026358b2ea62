package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorKind 错误类型枚举
type ErrorKind string

const (
	// 传输与系统级错误
	KindNetwork    ErrorKind = "NETWORK"
	KindConfig     ErrorKind = "CONFIG"
	KindClientInit ErrorKind = "CLIENT_INIT"
	KindCookie     ErrorKind = "COOKIE"

	// 文档解析错误
	KindHTMLParse ErrorKind = "HTML_PARSE"
	KindXMLParse  ErrorKind = "XML_PARSE"
	KindCrypto    ErrorKind = "CRYPTO"

	// 认证业务错误
	KindLoginFailed    ErrorKind = "LOGIN_FAILED"
	KindLogoutFailed   ErrorKind = "LOGOUT_FAILED"
	KindSessionExpired ErrorKind = "SESSION_EXPIRED"
	KindWeChat         ErrorKind = "WECHAT"
	KindValidation     ErrorKind = "VALIDATION"
)

// ErrorCode 错误码
type ErrorCode string

const (
	// 系统错误码 (E1xxx)
	ErrCodeNetworkRequest ErrorCode = "E1001"
	ErrCodeNetworkTimeout ErrorCode = "E1002"
	ErrCodeConfigMissing  ErrorCode = "E1003"
	ErrCodeConfigInvalid  ErrorCode = "E1004"
	ErrCodeClientInit     ErrorCode = "E1005"

	// 解析与加密错误码 (E2xxx)
	ErrCodeMissingField     ErrorCode = "E2001"
	ErrCodeMalformedHTML    ErrorCode = "E2002"
	ErrCodeMalformedXML     ErrorCode = "E2003"
	ErrCodeUUIDNotFound     ErrorCode = "E2004"
	ErrCodeInvalidKeyLength ErrorCode = "E2005"
	ErrCodeRandomSource     ErrorCode = "E2006"

	// 认证错误码 (E3xxx)
	ErrCodeLoginRejected    ErrorCode = "E3001"
	ErrCodeLogoutRejected   ErrorCode = "E3002"
	ErrCodeSessionExpired   ErrorCode = "E3003"
	ErrCodeValidationFailed ErrorCode = "E3004"

	// 微信扫码错误码 (E4xxx)
	ErrCodeMissingParam     ErrorCode = "E4001"
	ErrCodeInvalidURL       ErrorCode = "E4002"
	ErrCodeUnexpectedRoute  ErrorCode = "E4003"
	ErrCodeQRDisplay        ErrorCode = "E4004"
	ErrCodeQRExpired        ErrorCode = "E4005"
	ErrCodeProtocol         ErrorCode = "E4006"
	ErrCodePollingAborted   ErrorCode = "E4007"
	ErrCodeCallbackRejected ErrorCode = "E4008"

	// Cookie错误码 (E5xxx)
	ErrCodeCookieIO ErrorCode = "E5001"
)

// CookieOp Cookie持久化失败时所处的操作
type CookieOp string

const (
	CookieOpRead        CookieOp = "read"
	CookieOpWrite       CookieOp = "write"
	CookieOpSerialize   CookieOp = "serialize"
	CookieOpDeserialize CookieOp = "deserialize"
)

// AuthError 统一错误结构
type AuthError struct {
	Kind      ErrorKind   `json:"kind"`
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Details   string      `json:"details,omitempty"`
	Field     string      `json:"field,omitempty"` // 缺失的表单字段或URL参数
	Op        CookieOp    `json:"op,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Context   interface{} `json:"context,omitempty"`
	Cause     error       `json:"-"` // 原始错误，不序列化
}

// Error 实现error接口
func (e *AuthError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	if e.Details != "" {
		msg += " - " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 支持错误链
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// New 创建新的认证错误
func New(kind ErrorKind, code ErrorCode, message string) *AuthError {
	return &AuthError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithDetails 添加详细信息
func (e *AuthError) WithDetails(details string) *AuthError {
	e.Details = details
	return e
}

// WithContext 添加上下文信息
func (e *AuthError) WithContext(context interface{}) *AuthError {
	e.Context = context
	return e
}

// WithCause 添加原始错误
func (e *AuthError) WithCause(cause error) *AuthError {
	e.Cause = cause
	return e
}

// IsKind 检查错误链中是否存在指定类型的错误
func IsKind(err error, kind ErrorKind) bool {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr.Kind == kind
	}
	return false
}

// IsCode 检查错误链中是否存在指定错误码
func IsCode(err error, code ErrorCode) bool {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr.Code == code
	}
	return false
}

// As 从错误链中取出AuthError
func As(err error) (*AuthError, bool) {
	var authErr *AuthError
	ok := stderrors.As(err, &authErr)
	return authErr, ok
}

// 预定义常用错误

// ErrNetwork 网络请求错误
func ErrNetwork(method, url string, cause error) *AuthError {
	return New(KindNetwork, ErrCodeNetworkRequest, "HTTP request failed").
		WithDetails(fmt.Sprintf("%s %s", method, url)).
		WithCause(cause)
}

// ErrMissingField 登录页缺少必需字段
func ErrMissingField(field string) *AuthError {
	e := New(KindHTMLParse, ErrCodeMissingField, "Required field missing from login page").
		WithDetails(fmt.Sprintf("Missing field: %s", field))
	e.Field = field
	return e
}

// ErrMalformedHTML HTML无法解析
func ErrMalformedHTML(cause error) *AuthError {
	return New(KindHTMLParse, ErrCodeMalformedHTML, "Failed to parse HTML document").WithCause(cause)
}

// ErrXMLParse XML解析错误
func ErrXMLParse(code ErrorCode, message string, cause error) *AuthError {
	return New(KindXMLParse, code, message).WithCause(cause)
}

// ErrInvalidKeyLength 密钥长度不支持
func ErrInvalidKeyLength(length int) *AuthError {
	return New(KindCrypto, ErrCodeInvalidKeyLength, "Invalid key length").
		WithDetails(fmt.Sprintf("got %d bytes, want 16, 24 or 32", length))
}

// ErrLoginFailed 门户拒绝登录
func ErrLoginFailed(message string) *AuthError {
	return New(KindLoginFailed, ErrCodeLoginRejected, "Login failed").WithDetails(message)
}

// ErrLogoutFailed 门户拒绝注销
func ErrLogoutFailed(message string) *AuthError {
	return New(KindLogoutFailed, ErrCodeLogoutRejected, "Logout failed").WithDetails(message)
}

// ErrSessionExpired 会话已失效
func ErrSessionExpired() *AuthError {
	return New(KindSessionExpired, ErrCodeSessionExpired, "Session expired")
}

// ErrCookie Cookie持久化错误
func ErrCookie(op CookieOp, path string, cause error) *AuthError {
	e := New(KindCookie, ErrCodeCookieIO, fmt.Sprintf("Cookie %s failed", op)).
		WithDetails(path).
		WithCause(cause)
	e.Op = op
	return e
}

// ErrWeChat 微信扫码流程错误
func ErrWeChat(code ErrorCode, message string) *AuthError {
	return New(KindWeChat, code, message)
}

// ErrMissingParam OAuth跳转链接缺少参数
func ErrMissingParam(name string) *AuthError {
	e := New(KindWeChat, ErrCodeMissingParam, "Missing OAuth parameter").
		WithDetails(fmt.Sprintf("Missing %s parameter", name))
	e.Field = name
	return e
}

// ErrClientInit 客户端初始化失败
func ErrClientInit(details string, cause error) *AuthError {
	return New(KindClientInit, ErrCodeClientInit, "Failed to initialize client").
		WithDetails(details).
		WithCause(cause)
}

// ErrValidationFailed 验证失败错误
func ErrValidationFailed(field, reason string) *AuthError {
	e := New(KindValidation, ErrCodeValidationFailed, "Validation failed").
		WithDetails(fmt.Sprintf("Field '%s': %s", field, reason))
	e.Field = field
	return e
}

// ErrConfigMissing 配置缺失错误
func ErrConfigMissing(configKey string) *AuthError {
	return New(KindConfig, ErrCodeConfigMissing, "Required configuration missing").
		WithDetails(fmt.Sprintf("Missing config key: %s", configKey))
}

// ErrConfigInvalid 配置无效错误
func ErrConfigInvalid(configKey, reason string) *AuthError {
	return New(KindConfig, ErrCodeConfigInvalid, "Invalid configuration").
		WithDetails(fmt.Sprintf("Config key '%s': %s", configKey, reason))
}
