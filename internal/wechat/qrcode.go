package wechat

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"uestcauth/internal/errors"
)

// Displayer 二维码展示接口
type Displayer interface {
	Display(qrURL string) error
}

// DisplayFunc 适配普通函数
type DisplayFunc func(qrURL string) error

// Display 实现 Displayer
func (f DisplayFunc) Display(qrURL string) error {
	return f(qrURL)
}

// ConfirmURL 手机扫码后打开的确认页地址，即二维码内容
func (e Endpoints) ConfirmURL(uuid string) string {
	return strings.TrimRight(e.OpenBase, "/") + "/connect/confirm?uuid=" + uuid
}

// TerminalDisplayer 在终端输出二维码
type TerminalDisplayer struct {
	Writer io.Writer
}

// NewTerminalDisplayer 创建终端二维码展示器，w 为 nil 时输出到标准输出
func NewTerminalDisplayer(w io.Writer) *TerminalDisplayer {
	if w == nil {
		w = os.Stdout
	}
	return &TerminalDisplayer{Writer: w}
}

// Display 显示二维码
func (q *TerminalDisplayer) Display(qrURL string) (err error) {
	w := &errWriter{w: q.Writer}
	defer func() {
		if r := recover(); r != nil {
			err = errors.ErrWeChat(errors.ErrCodeQRDisplay, "Failed to display QR code").
				WithDetails(fmt.Sprint(r))
		}
	}()

	fmt.Fprintln(w, "\n📲 请使用微信扫描下方二维码:")
	fmt.Fprintln(w, "==================================")
	qrterminal.GenerateWithConfig(qrURL, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
	fmt.Fprintln(w, "==================================")

	if w.err != nil {
		return errors.ErrWeChat(errors.ErrCodeQRDisplay, "Failed to display QR code").WithCause(w.err)
	}
	return nil
}

// errWriter 记录第一次写入失败，qrterminal 本身不返回错误
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
