package cookies

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"uestcauth/internal/errors"
	"uestcauth/internal/logger"
)

// Record 单个 Cookie 的持久化形式
type Record struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Expires  *time.Time `json:"expires"`
	Secure   bool       `json:"secure"`
	HTTPOnly bool       `json:"http_only"`
}

// Options 持久化选项
type Options struct {
	// FallbackDomain 没有 Domain 的 Cookie 保存时使用的域名，一般为认证服务器主机名
	FallbackDomain string
	// PersistExpiry 为 false 时所有 Cookie 都按会话 Cookie 保存，expires 恒为空
	PersistExpiry bool
}

// Store Cookie 持久化后端
type Store interface {
	// Load 读取全部记录；尚未保存过时返回空
	Load(ctx context.Context) ([]Record, error)
	// Save 用 records 覆盖已保存内容
	Save(ctx context.Context, records []Record) error
	// Remove 删除已保存内容；本就不存在时不报错
	Remove(ctx context.Context) error
}

// FileStore JSON 文件后端
type FileStore struct {
	Path string
}

// NewFileStore 创建 JSON 文件后端
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load 读取 JSON 数组；文件不存在时返回空
func (s *FileStore) Load(_ context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.ErrCookie(errors.CookieOpRead, s.Path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.ErrCookie(errors.CookieOpDeserialize, s.Path, err)
	}
	return records, nil
}

// Save 以缩进 JSON 覆盖写入，跳过没有 Domain 的记录
func (s *FileStore) Save(_ context.Context, records []Record) error {
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Domain != "" {
			kept = append(kept, r)
		}
	}

	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return errors.ErrCookie(errors.CookieOpSerialize, s.Path, err)
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return errors.ErrCookie(errors.CookieOpWrite, s.Path, err)
	}
	return nil
}

// Remove 删除 Cookie 文件
func (s *FileStore) Remove(_ context.Context) error {
	if err := os.Remove(s.Path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.ErrCookie(errors.CookieOpWrite, s.Path, err)
	}
	return nil
}

// Load 从后端恢复 Cookie 容器。读取或解析失败时记录日志并返回空容器，不影响调用方。
func Load(ctx context.Context, store Store, opts Options) *Jar {
	jar := NewJar()
	log := logger.NewLogger("cookies")

	records, err := store.Load(ctx)
	if err != nil {
		if authErr, ok := errors.As(err); ok {
			log.LogAuthError(authErr, "Failed to load cookies, starting with empty jar")
		} else {
			log.WithError(err).Error("Failed to load cookies, starting with empty jar")
		}
		return jar
	}

	loaded := jar.Restore(records, opts)
	log.Debug("Cookies loaded", logger.Fields{
		"records": len(records),
		"loaded":  loaded,
	})
	return jar
}

// Save 对容器做快照并写入后端
func Save(ctx context.Context, jar *Jar, store Store, opts Options) error {
	records := jar.Records(opts.FallbackDomain, opts.PersistExpiry)
	if err := store.Save(ctx, records); err != nil {
		return err
	}
	logger.NewLogger("cookies").Debug("Cookies saved", logger.Fields{
		"records": len(records),
	})
	return nil
}

// LoadFile 从 JSON 文件恢复 Cookie 容器
func LoadFile(path string, opts Options) *Jar {
	return Load(context.Background(), NewFileStore(path), opts)
}

// SaveFile 将 Cookie 容器写入 JSON 文件
func SaveFile(jar *Jar, path string, opts Options) error {
	return Save(context.Background(), jar, NewFileStore(path), opts)
}

// Restore 将记录写回容器，返回成功恢复的数量。
// 没有 Domain 或无法解析的记录被跳过；PersistExpiry 关闭时忽略 expires。
func (j *Jar) Restore(records []Record, opts Options) int {
	log := logger.NewLogger("cookies")
	now := j.now()
	loaded := 0

	for _, r := range records {
		if r.Domain == "" {
			log.Warn("Skipping cookie without domain", logger.Fields{"name": r.Name})
			continue
		}

		maxAge := 0
		if opts.PersistExpiry && r.Expires != nil {
			maxAge = int(r.Expires.Sub(now).Seconds())
			if maxAge <= 0 {
				log.Debug("Skipping expired cookie", logger.Fields{"name": r.Name, "domain": r.Domain})
				continue
			}
		}

		cookie, err := http.ParseSetCookie(r.setCookieString(maxAge))
		if err != nil {
			log.Warn("Skipping unparseable cookie", logger.Fields{
				"name":   r.Name,
				"domain": r.Domain,
				"error":  err.Error(),
			})
			continue
		}

		host := strings.TrimPrefix(r.Domain, ".")
		j.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, []*http.Cookie{cookie})
		loaded++
	}
	return loaded
}

// setCookieString 还原为 Set-Cookie 头格式
func (r Record) setCookieString(maxAge int) string {
	path := r.Path
	if path == "" {
		path = "/"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s=%s; Domain=%s; Path=%s", r.Name, r.Value, r.Domain, path)
	if r.Secure {
		sb.WriteString("; Secure")
	}
	if r.HTTPOnly {
		sb.WriteString("; HttpOnly")
	}
	if maxAge > 0 {
		fmt.Fprintf(&sb, "; Max-Age=%d", maxAge)
	}
	return sb.String()
}

// OpenStore 按后端类型创建持久化实现，backend 为 file 或 sqlite
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.ErrConfigInvalid("cookies.backend", "unsupported backend "+backend)
	}
}
