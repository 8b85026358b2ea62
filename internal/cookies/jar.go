package cookies

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Jar 带快照能力的 Cookie 容器。
// 请求匹配交给标准库 cookiejar，ledger 保存每个 Cookie 的完整属性以便持久化。
type Jar struct {
	mu     sync.Mutex
	inner  *cookiejar.Jar
	ledger map[string]entry
	seq    uint64
	now    func() time.Time
}

type entry struct {
	cookie http.Cookie
	host   string // 设置该 Cookie 的请求主机
	seq    uint64 // 写入顺序，快照去重时保留最新
}

// NewJar 创建空 Cookie 容器
func NewJar() *Jar {
	return &Jar{
		inner:  newInnerJar(),
		ledger: make(map[string]entry),
		now:    time.Now,
	}
}

func newInnerJar() *cookiejar.Jar {
	// cookiejar.New 仅在 Options 非法时返回错误
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// SetCookies 实现 http.CookieJar
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)

	now := j.now()
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		path := c.Path
		if path == "" || !strings.HasPrefix(path, "/") {
			path = defaultPath(u)
		}
		host := strings.ToLower(u.Hostname())
		domain, ok := effectiveDomain(host, c.Domain)
		if !ok {
			// cookiejar 同样会拒绝
			continue
		}
		key := ledgerKey(domain, host, path, c.Name)

		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			delete(j.ledger, key)
			continue
		}

		stored := *c
		stored.Domain = domain
		if c.Domain == "" {
			stored.Domain = ""
		}
		stored.Path = path
		if c.MaxAge > 0 {
			stored.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
			stored.MaxAge = 0
		}
		j.seq++
		j.ledger[key] = entry{cookie: stored, host: host, seq: j.seq}
	}
}

// Cookies 实现 http.CookieJar
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Records 对当前所有 Cookie 做快照；没有 Domain 的 Cookie 回落到 fallbackDomain，
// fallbackDomain 为空时使用设置它的请求主机
func (j *Jar) Records(fallbackDomain string, persistExpiry bool) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	type keyed struct {
		record Record
		seq    uint64
	}
	latest := make(map[string]keyed, len(j.ledger))
	for _, e := range j.ledger {
		c := e.cookie
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}

		domain := c.Domain
		if domain == "" {
			domain = fallbackDomain
		}
		if domain == "" {
			domain = e.host
		}
		if domain == "" {
			continue
		}

		r := Record{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if persistExpiry && !c.Expires.IsZero() {
			exp := c.Expires.UTC()
			r.Expires = &exp
		}

		// 不同主机的 host-only Cookie 回落到同一 Domain 时只保留最后写入的
		k := r.Domain + ";" + r.Path + ";" + r.Name
		if prev, ok := latest[k]; !ok || e.seq > prev.seq {
			latest[k] = keyed{record: r, seq: e.seq}
		}
	}

	records := make([]Record, 0, len(latest))
	for _, v := range latest {
		records = append(records, v.record)
	}

	sort.Slice(records, func(a, b int) bool {
		if records[a].Domain != records[b].Domain {
			return records[a].Domain < records[b].Domain
		}
		if records[a].Path != records[b].Path {
			return records[a].Path < records[b].Path
		}
		return records[a].Name < records[b].Name
	})
	return records
}

// Len 返回当前持有的 Cookie 数量
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.ledger)
}

// Clear 清空所有 Cookie
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = newInnerJar()
	j.ledger = make(map[string]entry)
}

// ledgerKey 与 cookiejar 的条目标识一致：host-only Cookie 以请求主机作为 Domain
func ledgerKey(domain, host, path, name string) string {
	if domain == "" {
		domain = host
	}
	return domain + ";" + path + ";" + name
}

// effectiveDomain 按 cookiejar 的规则计算 Cookie 所属域；返回 host 表示 host-only。
// ok 为 false 时 cookiejar 会丢弃该 Cookie。
func effectiveDomain(host, attr string) (string, bool) {
	domain := strings.TrimPrefix(strings.ToLower(attr), ".")
	if domain == "" {
		return host, true
	}
	if net.ParseIP(host) != nil {
		return host, domain == host
	}
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", false
	}
	// 公共后缀只能作为 host-only 使用
	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		return host, host == domain
	}
	return domain, true
}

// defaultPath RFC 6265 5.1.4
func defaultPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
