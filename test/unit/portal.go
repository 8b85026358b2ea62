package unit

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"uestcauth/internal/config"
)

// 模拟门户使用的固定值
const (
	FakeSalt      = "rjBFAaHsNkKAhpoi"
	FakeExecution = "e1s1"
	FakeAppID     = "wxfake0001"
	FakeState     = "ST42"
	FakeQRUUID    = "061qrUUID"
	FakeWxCode    = "wxCODE42"
	FakeErrorTip  = "您提供的用户名或者密码有误"
	TicketCookie  = "CASTGC"
)

// FakePortal 模拟统一身份认证门户与微信开放平台
type FakePortal struct {
	Portal *httptest.Server
	WeChat *httptest.Server

	Username string
	Password string

	mu           sync.Mutex
	tickets      map[string]bool
	nextTicket   int
	pollScript   []string
	polls        []string
	logins       int
	logoutStatus int
	comboTarget  string
}

// NewFakePortal 启动模拟服务，测试结束时自动关闭
func NewFakePortal(t *testing.T) *FakePortal {
	t.Helper()
	f := &FakePortal{
		Username: "2024000001",
		Password: "correct horse",
		tickets:  make(map[string]bool),
	}

	portal := http.NewServeMux()
	portal.HandleFunc("/authserver/login", f.handleLogin)
	portal.HandleFunc("/authserver/logout", f.handleLogout)
	portal.HandleFunc("/authserver/combinedLogin.do", f.handleCombinedLogin)
	portal.HandleFunc("/authserver/callback", f.handleCallback)
	portal.HandleFunc("/personalInfo/personCenter/index.html", f.handlePersonalCenter)
	f.Portal = httptest.NewServer(portal)

	open := http.NewServeMux()
	open.HandleFunc("/connect/qrconnect", f.handleQRConnect)
	open.HandleFunc("/connect/l/qrconnect", f.handlePoll)
	f.WeChat = httptest.NewServer(open)

	t.Cleanup(func() {
		f.Portal.Close()
		f.WeChat.Close()
	})
	return f
}

// Config 指向模拟服务的门户配置
func (f *FakePortal) Config() config.PortalConfig {
	cfg := config.DefaultPortal()
	cfg.LoginURL = f.Portal.URL + "/authserver/login"
	cfg.LogoutURL = f.Portal.URL + "/authserver/logout"
	cfg.PersonalCenterURL = f.Portal.URL + "/personalInfo/personCenter/index.html"
	cfg.CombinedLoginURL = f.Portal.URL + "/authserver/combinedLogin.do?type=weixin"
	cfg.WeChatOpenURL = f.WeChat.URL
	cfg.WeChatPollURL = f.WeChat.URL
	cfg.RequestTimeout = 5 * time.Second
	cfg.PollTimeout = 5 * time.Second
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

// ScriptPolls 设置长轮询依次返回的响应，用完后一直返回 408
func (f *FakePortal) ScriptPolls(responses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollScript = append([]string(nil), responses...)
}

// Polls 返回收到的长轮询地址
func (f *FakePortal) Polls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.polls...)
}

// Logins 返回表单登录成功次数
func (f *FakePortal) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// SetLogoutStatus 让注销接口返回指定状态码
func (f *FakePortal) SetLogoutStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutStatus = code
}

// SetCombinedLoginTarget 让联合登录跳转到指定地址
func (f *FakePortal) SetCombinedLoginTarget(target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comboTarget = target
}

// RevokeAll 使所有票据失效
func (f *FakePortal) RevokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = make(map[string]bool)
}

func (f *FakePortal) hasSession(r *http.Request) bool {
	c, err := r.Cookie(TicketCookie)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[c.Value]
}

func (f *FakePortal) issueTicket(w http.ResponseWriter) {
	f.mu.Lock()
	f.nextTicket++
	ticket := fmt.Sprintf("TGT-%d", f.nextTicket)
	f.tickets[ticket] = true
	f.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: TicketCookie, Value: ticket, Path: "/", HttpOnly: true})
}

func (f *FakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if f.hasSession(r) {
			http.Redirect(w, r, "/personalInfo/personCenter/index.html", http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "route", Value: "r-login", Path: "/authserver"})
		writeHTML(w, LoginPageHTML(""))
	case http.MethodPost:
		_ = r.ParseForm()
		password, err := DecryptPassword(r.PostForm.Get("password"), FakeSalt)
		if err != nil || r.PostForm.Get("username") != f.Username || password != f.Password ||
			r.PostForm.Get("execution") != FakeExecution {
			writeHTML(w, LoginPageHTML(FakeErrorTip))
			return
		}
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		f.issueTicket(w)
		http.Redirect(w, r, "/personalInfo/personCenter/index.html", http.StatusFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakePortal) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.logoutStatus
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	if c, err := r.Cookie(TicketCookie); err == nil {
		f.mu.Lock()
		delete(f.tickets, c.Value)
		f.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: TicketCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/authserver/login", http.StatusFound)
}

func (f *FakePortal) handlePersonalCenter(w http.ResponseWriter, r *http.Request) {
	if !f.hasSession(r) {
		http.Redirect(w, r, "/authserver/login", http.StatusFound)
		return
	}
	writeHTML(w, "<html><body>personal center</body></html>")
}

func (f *FakePortal) handleCombinedLogin(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	target := f.comboTarget
	f.mu.Unlock()
	if target == "" {
		redirect := f.Portal.URL + "/authserver/callback?type=weixin"
		target = f.WeChat.URL + "/connect/qrconnect?appid=" + FakeAppID +
			"&redirect_uri=" + url.QueryEscape(redirect) +
			"&response_type=code&scope=snsapi_login&state=" + FakeState
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *FakePortal) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code") != FakeWxCode || q.Get("state") != FakeState || q.Get("type") != "weixin" {
		http.Redirect(w, r, "/authserver/login", http.StatusFound)
		return
	}
	f.issueTicket(w)
	http.Redirect(w, r, "/personalInfo/personCenter/index.html", http.StatusFound)
}

func (f *FakePortal) handleQRConnect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("f") != "xml" {
		writeHTML(w, "<html><body>scan to login</body></html>")
		return
	}
	if q.Get("appid") != FakeAppID || q.Get("state") != FakeState {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, `<xml><ret>1</ret></xml>`)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><xml><ret>0</ret><uuid><![CDATA[`+FakeQRUUID+`]]></uuid></xml>`)
}

func (f *FakePortal) handlePoll(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.polls = append(f.polls, r.URL.RequestURI())
	body := "window.wx_errcode=408;window.wx_code='';"
	if len(f.pollScript) > 0 {
		body = f.pollScript[0]
		f.pollScript = f.pollScript[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/javascript")
	_, _ = io.WriteString(w, body)
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, body)
}

// LoginPageHTML 登录页片段，errorTip 非空时带错误提示
func LoginPageHTML(errorTip string) string {
	tip := ""
	if errorTip != "" {
		tip = `<span id="showErrorTip"><span>` + errorTip + `</span></span>`
	}
	return `<!DOCTYPE html>
<html>
<head>
<script type="text/javascript" src="/authserver/custom/js/login-wisedu_v1.0.js"></script>
<script type="text/javascript" src="/authserver/custom/js/encrypt.js"></script>
</head>
<body>
` + tip + `
<div id="pwdLoginDiv">
  <form id="pwdFromId" method="post" action="/authserver/login">
    <input id="username" name="username" value="">
    <input id="password" type="password" placeholder="password">
    <input type="hidden" id="_eventId" name="_eventId" value="submit">
    <input type="hidden" id="cllt" name="cllt" value="userNameLogin">
    <input type="hidden" id="dllt" name="dllt" value="generalLogin">
    <input type="hidden" id="lt" name="lt" value="">
    <input type="hidden" id="execution" name="execution" value="` + FakeExecution + `">
    <input type="hidden" id="pwdEncryptSalt" value="` + FakeSalt + `">
  </form>
</div>
</body>
</html>`
}

// DecryptPassword 还原登录表单中的加密密码，丢弃 64 字符随机前缀
func DecryptPassword(encoded, salt string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(ct) < 2*aes.BlockSize || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d", len(ct))
	}
	block, err := aes.NewCipher([]byte(salt))
	if err != nil {
		return "", err
	}

	// IV 未随密文传输，以第一个密文块为 IV 解出其后的明文
	pt := make([]byte, len(ct)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, ct[:aes.BlockSize]).CryptBlocks(pt, ct[aes.BlockSize:])

	pad := int(pt[len(pt)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(pt) {
		return "", fmt.Errorf("bad padding")
	}
	pt = pt[:len(pt)-pad]

	const prefixInBlocks = 64 - aes.BlockSize
	if len(pt) < prefixInBlocks {
		return "", fmt.Errorf("plaintext too short")
	}
	return string(pt[prefixInBlocks:]), nil
}
