package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"uestcauth/internal/errors"
)

const (
	saltFieldID      = "pwdEncryptSalt"
	executionFieldID = "execution"
)

// LoginPageInfo 登录页中每次会话动态生成的字段
type LoginPageInfo struct {
	EncryptScriptPath string            // 为空表示页面未引用加密脚本
	PwdEncryptSalt    string            // 密码加密盐，同时作为AES密钥
	FormData          map[string]string // #pwdLoginDiv 内带 id 与 value 的 input
}

// Execution 返回CAS表单的 execution 隐藏字段
func (p *LoginPageInfo) Execution() string {
	return p.FormData[executionFieldID]
}

// ParseLoginPage 解析登录页HTML，提取加密盐与隐藏表单字段
func ParseLoginPage(html string) (*LoginPageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.ErrMalformedHTML(err)
	}

	info := &LoginPageInfo{
		FormData: make(map[string]string),
	}

	doc.Find(`script[type="text/javascript"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if ok && strings.Contains(src, "encrypt") {
			info.EncryptScriptPath = src
			return false
		}
		return true
	})

	doc.Find("#pwdLoginDiv input").Each(func(_ int, s *goquery.Selection) {
		id, hasID := s.Attr("id")
		value, hasValue := s.Attr("value")
		if hasID && hasValue {
			info.FormData[id] = value
		}
	})

	salt, ok := info.FormData[saltFieldID]
	if !ok {
		// 部分页面把盐放在 #pwdLoginDiv 之外
		salt, ok = doc.Find("input#" + saltFieldID).First().Attr("value")
	}
	if !ok {
		return nil, errors.ErrMissingField(saltFieldID)
	}
	info.PwdEncryptSalt = salt

	return info, nil
}

// ExtractErrorMessage 读取登录失败时页面上的错误提示，不存在时返回空串
func ExtractErrorMessage(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("#showErrorTip").First().Text())
}
