package cookies

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uestcauth/internal/errors"
)

const identityHost = "idas.uestc.edu.cn"

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func cookieNames(cookies []*http.Cookie) map[string]string {
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

func seededJar(t *testing.T) *Jar {
	t.Helper()
	jar := NewJar()
	jar.SetCookies(mustURL(t, "https://idas.uestc.edu.cn/authserver/login"), []*http.Cookie{
		{Name: "CASTGC", Value: "TGT-1", Path: "/authserver", Secure: true, HttpOnly: true},
		{Name: "route", Value: "r1"},
		{Name: "JSESSIONID", Value: "sess", Domain: ".uestc.edu.cn", Path: "/", MaxAge: 3600},
	})
	return jar
}

func TestJarRecords(t *testing.T) {
	jar := seededJar(t)
	require.Equal(t, 3, jar.Len())

	records := jar.Records(identityHost, false)
	require.Len(t, records, 3)

	byName := make(map[string]Record)
	for _, r := range records {
		byName[r.Name] = r
		assert.Nil(t, r.Expires, "expiry is dropped when not persisted")
	}

	assert.Equal(t, Record{Name: "CASTGC", Value: "TGT-1", Domain: identityHost, Path: "/authserver", Secure: true, HTTPOnly: true}, byName["CASTGC"])
	assert.Equal(t, identityHost, byName["route"].Domain)
	assert.Equal(t, "/authserver", byName["route"].Path, "default path comes from the request URL")
	assert.Equal(t, "uestc.edu.cn", byName["JSESSIONID"].Domain)
}

func TestJarRecordsPersistExpiry(t *testing.T) {
	jar := NewJar()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	jar.now = func() time.Time { return now }

	jar.SetCookies(mustURL(t, "https://idas.uestc.edu.cn/"), []*http.Cookie{
		{Name: "a", Value: "1", MaxAge: 60},
		{Name: "b", Value: "2"},
	})

	records := jar.Records(identityHost, true)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].Expires)
	assert.Equal(t, now.Add(time.Minute), *records[0].Expires)
	assert.Nil(t, records[1].Expires)
}

func TestJarDeletesExpiredCookies(t *testing.T) {
	jar := seededJar(t)
	jar.SetCookies(mustURL(t, "https://idas.uestc.edu.cn/authserver/login"), []*http.Cookie{
		{Name: "route", Value: "", MaxAge: -1},
	})
	assert.Equal(t, 2, jar.Len())

	jar.Clear()
	assert.Equal(t, 0, jar.Len())
	assert.Empty(t, jar.Cookies(mustURL(t, "https://idas.uestc.edu.cn/authserver/login")))
}

func TestJarRejectsForeignDomain(t *testing.T) {
	jar := NewJar()
	jar.SetCookies(mustURL(t, "https://idas.uestc.edu.cn/"), []*http.Cookie{
		{Name: "evil", Value: "1", Domain: "example.com"},
	})
	assert.Equal(t, 0, jar.Len())
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	opts := Options{FallbackDomain: identityHost}

	require.NoError(t, SaveFile(seededJar(t), path, opts))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 3)
	for _, r := range raw {
		assert.Contains(t, r, "http_only")
		assert.Nil(t, r["expires"])
	}

	restored := LoadFile(path, opts)
	assert.Equal(t, 3, restored.Len())

	got := cookieNames(restored.Cookies(mustURL(t, "https://idas.uestc.edu.cn/authserver/login")))
	assert.Equal(t, map[string]string{"CASTGC": "TGT-1", "route": "r1", "JSESSIONID": "sess"}, got)

	// 域 Cookie 对子域名同样生效
	other := cookieNames(restored.Cookies(mustURL(t, "https://eams.uestc.edu.cn/")))
	assert.Equal(t, map[string]string{"JSESSIONID": "sess"}, other)
}

func TestLoadSkipsRecordsWithoutDomain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	content := `[
  {"name": "kept", "value": "1", "domain": "idas.uestc.edu.cn", "path": "/", "expires": null, "secure": false, "http_only": false},
  {"name": "dropped", "value": "2", "domain": "", "path": "/", "expires": null, "secure": false, "http_only": false}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	jar := LoadFile(path, Options{})
	assert.Equal(t, 1, jar.Len())
	assert.Equal(t, map[string]string{"kept": "1"}, cookieNames(jar.Cookies(mustURL(t, "https://idas.uestc.edu.cn/"))))
}

func TestLoadToleratesMissingAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, 0, LoadFile(filepath.Join(dir, "absent.json"), Options{}).Len())

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	assert.Equal(t, 0, LoadFile(corrupt, Options{}).Len())

	_, err := NewFileStore(corrupt).Load(context.Background())
	require.Error(t, err)
	authErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindCookie, authErr.Kind)
	assert.Equal(t, errors.CookieOpDeserialize, authErr.Op)
}

func TestRestoreExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	records := []Record{
		{Name: "old", Value: "1", Domain: identityHost, Path: "/", Expires: &past},
		{Name: "fresh", Value: "2", Domain: identityHost, Path: "/", Expires: &future},
	}

	withExpiry := NewJar()
	withExpiry.now = func() time.Time { return now }
	assert.Equal(t, 1, withExpiry.Restore(records, Options{PersistExpiry: true}))

	// 不持久化过期时间时全部作为会话 Cookie 恢复
	session := NewJar()
	session.now = func() time.Time { return now }
	assert.Equal(t, 2, session.Restore(records, Options{}))
}

func TestRestoreSkipsUnparseable(t *testing.T) {
	jar := NewJar()
	loaded := jar.Restore([]Record{
		{Name: "", Value: "x", Domain: identityHost},
		{Name: "ok", Value: "y", Domain: identityHost},
	}, Options{})
	assert.Equal(t, 1, loaded)
}

func TestFileStoreSaveFailure(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "dir", "cookies.json"))
	err := store.Save(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCookie))
	authErr, _ := errors.As(err)
	assert.Equal(t, errors.CookieOpWrite, authErr.Op)
}

func TestFileStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	store := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, store.Remove(ctx), "removing an absent file is not an error")
	require.NoError(t, Save(ctx, seededJar(t), store, Options{FallbackDomain: identityHost}))
	require.NoError(t, store.Remove(ctx))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cookies.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	opts := Options{FallbackDomain: identityHost}

	records, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, Save(ctx, seededJar(t), store, opts))
	// 第二次保存覆盖而不是追加
	require.NoError(t, Save(ctx, seededJar(t), store, opts))

	records, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	jar := Load(ctx, store, opts)
	assert.Equal(t, 3, jar.Len())

	require.NoError(t, store.Remove(ctx))
	records, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore("file", filepath.Join(dir, "c.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = OpenStore("sqlite", filepath.Join(dir, "c.db"))
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.(*SQLiteStore).Close())

	_, err = OpenStore("redis", "x")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func openBackend(t *testing.T, backend string) Store {
	t.Helper()
	s, err := OpenStore(backend, filepath.Join(t.TempDir(), "cookies."+backend))
	require.NoError(t, err)
	if closer, ok := s.(*SQLiteStore); ok {
		t.Cleanup(func() { _ = closer.Close() })
	}
	return s
}

// 重启恢复后门户再次下发同名 host-only Cookie，持久化结果只保留新值
func TestReloginAfterRestoreReplacesCookie(t *testing.T) {
	loginURL := "https://idas.uestc.edu.cn/authserver/login"

	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			store := openBackend(t, backend)
			opts := Options{FallbackDomain: identityHost}

			first := NewJar()
			first.SetCookies(mustURL(t, loginURL), []*http.Cookie{
				{Name: "CASTGC", Value: "OLD", Path: "/authserver"},
			})
			require.NoError(t, Save(ctx, first, store, opts))

			restored := Load(ctx, store, opts)
			restored.SetCookies(mustURL(t, loginURL), []*http.Cookie{
				{Name: "CASTGC", Value: "NEW", Path: "/authserver"},
			})
			assert.Equal(t, 1, restored.Len())
			assert.Equal(t, map[string]string{"CASTGC": "NEW"}, cookieNames(restored.Cookies(mustURL(t, loginURL))))

			records := restored.Records(identityHost, false)
			require.Len(t, records, 1)
			assert.Equal(t, "NEW", records[0].Value)

			require.NoError(t, Save(ctx, restored, store, opts))
			stored, err := store.Load(ctx)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "NEW", stored[0].Value)

			again := Load(ctx, store, opts)
			assert.Equal(t, map[string]string{"CASTGC": "NEW"}, cookieNames(again.Cookies(mustURL(t, loginURL))))
		})
	}
}

func TestJarFollowsCookiejarDomainRules(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		cookie   *http.Cookie
		accepted bool
	}{
		{name: "public suffix domain", rawURL: "https://idas.uestc.edu.cn/", cookie: &http.Cookie{Name: "a", Value: "1", Domain: "edu.cn"}, accepted: false},
		{name: "registrable parent domain", rawURL: "https://idas.uestc.edu.cn/", cookie: &http.Cookie{Name: "a", Value: "1", Domain: ".uestc.edu.cn"}, accepted: true},
		{name: "foreign domain", rawURL: "https://idas.uestc.edu.cn/", cookie: &http.Cookie{Name: "a", Value: "1", Domain: "example.com"}, accepted: false},
		{name: "ip host with own domain", rawURL: "http://127.0.0.1:8080/", cookie: &http.Cookie{Name: "a", Value: "1", Domain: "127.0.0.1"}, accepted: true},
		{name: "ip host with other domain", rawURL: "http://127.0.0.1:8080/", cookie: &http.Cookie{Name: "a", Value: "1", Domain: "127.0.0.2"}, accepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := NewJar()
			u := mustURL(t, tt.rawURL)
			jar.SetCookies(u, []*http.Cookie{tt.cookie})

			sent := len(jar.Cookies(u)) == 1
			assert.Equal(t, tt.accepted, sent)
			assert.Equal(t, sent, jar.Len() == 1, "ledger agrees with the request jar")
		})
	}
}

func TestRecordsKeepLatestHostOnlyCookie(t *testing.T) {
	jar := NewJar()
	jar.SetCookies(mustURL(t, "https://eams.uestc.edu.cn/"), []*http.Cookie{{Name: "route", Value: "eams"}})
	jar.SetCookies(mustURL(t, "https://idas.uestc.edu.cn/"), []*http.Cookie{{Name: "route", Value: "idas"}})

	records := jar.Records(identityHost, false)
	require.Len(t, records, 1)
	assert.Equal(t, "idas", records[0].Value)
}

func TestStoresDropRecordsWithoutDomain(t *testing.T) {
	input := []Record{
		{Name: "kept", Value: "1", Domain: identityHost, Path: "/"},
		{Name: "dropped", Value: "2", Domain: "", Path: "/"},
	}

	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			store := openBackend(t, backend)

			require.NoError(t, store.Save(ctx, input))
			stored, err := store.Load(ctx)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "kept", stored[0].Name)
		})
	}
}
