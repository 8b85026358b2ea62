package wechat

import "fmt"

// 微信开放平台默认地址
const (
	OpenURL = "https://open.weixin.qq.com"
	PollURL = "https://lp.open.weixin.qq.com"
)

// AuthParams 从开放平台跳转链接中提取的 OAuth 参数，创建后不再修改
type AuthParams struct {
	AppID       string
	RedirectURI string
	State       string
}

// ScanStatus 扫码状态
type ScanStatus int

// 扫码状态常量
const (
	StatusUnknown   ScanStatus = iota // 其他状态码
	StatusWaiting                     // 408: 等待扫码
	StatusScanned                     // 404: 已扫码，等待确认
	StatusConfirmed                   // 405: 已确认登录
	StatusExpired                     // 402: 二维码过期
)

// 长轮询返回的 wx_errcode
const (
	errcodeWaiting   = 408
	errcodeScanned   = 404
	errcodeConfirmed = 405
	errcodeExpired   = 402
)

// String 返回状态名称
func (s ScanStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusScanned:
		return "scanned"
	case StatusConfirmed:
		return "confirmed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal 是否为终止状态
func (s ScanStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired
}

// ScanResult 单次轮询结果
type ScanResult struct {
	Status ScanStatus
	Code   int    // 原始 wx_errcode，未匹配到时为 0
	WxCode string // 仅 StatusConfirmed 时非空
}

func (r ScanResult) String() string {
	if r.Status == StatusUnknown {
		return fmt.Sprintf("unknown(%d)", r.Code)
	}
	return r.Status.String()
}

// Endpoints 开放平台地址，测试时可替换为本地服务
type Endpoints struct {
	OpenBase string
	PollBase string
}

// DefaultEndpoints 返回微信开放平台的正式地址
func DefaultEndpoints() Endpoints {
	return Endpoints{OpenBase: OpenURL, PollBase: PollURL}
}
