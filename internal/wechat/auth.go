package wechat

import (
	"encoding/xml"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"
	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
)

func authLogger() *logger.Logger {
	return logger.NewLogger("wechat-auth")
}

// ParseAuthParams 从跳转到开放平台的链接中提取 appid、redirect_uri、state
func ParseAuthParams(rawURL string) (*AuthParams, error) {
	authLogger().Debug("Parsing WeChat OAuth parameters from URL")

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.ErrWeChat(errors.ErrCodeInvalidURL, "Invalid URL").WithCause(err)
	}

	query := u.Query()
	params := &AuthParams{}
	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"appid", &params.AppID},
		{"redirect_uri", &params.RedirectURI},
		{"state", &params.State},
	} {
		if !query.Has(field.name) {
			return nil, errors.ErrMissingParam(field.name)
		}
		*field.dst = query.Get(field.name)
	}

	authLogger().Debug("Parsed WeChat OAuth params", logger.Fields{
		"appid": params.AppID,
		"state": params.State,
	})
	return params, nil
}

// QRXMLURL 构造获取二维码 uuid 的 XML 接口地址
func (e Endpoints) QRXMLURL(p *AuthParams) string {
	return strings.TrimRight(e.OpenBase, "/") + "/connect/qrconnect?appid=" + url.QueryEscape(p.AppID) +
		"&redirect_uri=" + url.QueryEscape(p.RedirectURI) +
		"&state=" + url.QueryEscape(p.State) +
		"&response_type=code&scope=snsapi_login&f=xml&stylelite=1&fast_login=1"
}

// BuildQRXMLURL 使用默认地址构造二维码 XML 接口地址
func BuildQRXMLURL(p *AuthParams) string {
	return DefaultEndpoints().QRXMLURL(p)
}

// CallbackURL 构造携带授权码的回调地址
func (p *AuthParams) CallbackURL(wxCode string) string {
	sep := "?"
	if strings.Contains(p.RedirectURI, "?") {
		sep = "&"
	}
	return p.RedirectURI + sep + "code=" + wxCode + "&state=" + p.State
}

// ParseQRUUID 流式解析二维码接口返回的 XML，取第一个 <uuid> 元素内的文本或 CDATA
func ParseQRUUID(xmlText string) (string, error) {
	authLogger().Debug("Parsing QR UUID from XML response", logger.Fields{
		"size": len(xmlText),
	})

	decoder := xml.NewDecoder(strings.NewReader(xmlText))
	decoder.CharsetReader = charset.NewReaderLabel

	var (
		uuid   string
		inUUID bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			authErr := errors.ErrXMLParse(errors.ErrCodeMalformedXML, "XML parse error", err)
			authLogger().LogAuthError(authErr, "Failed to parse QR XML")
			return "", authErr
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "uuid" {
				inUUID = true
			}
		case xml.EndElement:
			if t.Name.Local == "uuid" {
				inUUID = false
			}
		case xml.CharData:
			if inUUID && uuid == "" {
				if text := strings.TrimSpace(string(t)); text != "" {
					uuid = text
					inUUID = false
				}
			}
		}
	}

	if uuid == "" {
		authErr := errors.ErrXMLParse(errors.ErrCodeUUIDNotFound, "UUID not found in XML response", nil)
		authLogger().LogAuthError(authErr, "QR XML carried no uuid")
		return "", authErr
	}
	return uuid, nil
}
