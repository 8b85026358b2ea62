package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"uestcauth/internal/cookies"
	"uestcauth/internal/handlers"
	"uestcauth/internal/session"
	"uestcauth/test/unit"
)

// TestSuite 集成测试套件：模拟门户 + 持久化存储 + HTTP 服务
type TestSuite struct {
	t       *testing.T
	backend string
	path    string

	Fake   *unit.FakePortal
	Client *session.Client
	Router *gin.Engine
	store  cookies.Store
}

// NewTestSuite 创建集成测试套件，backend 为 file 或 sqlite
func NewTestSuite(t *testing.T, backend string) *TestSuite {
	t.Helper()
	ts := &TestSuite{
		t:       t,
		backend: backend,
		path:    filepath.Join(t.TempDir(), "cookies."+backend),
		Fake:    unit.NewFakePortal(t),
	}
	ts.Restart()
	t.Cleanup(ts.closeStore)
	return ts
}

// Restart 模拟进程重启：重新打开存储并创建新的客户端
func (ts *TestSuite) Restart() {
	ts.t.Helper()
	ts.closeStore()

	store, err := cookies.OpenStore(ts.backend, ts.path)
	require.NoError(ts.t, err, "Failed to open cookie store")
	ts.store = store

	client, err := session.New(ts.Fake.Config(),
		session.WithStore(store),
		session.WithDisplayer(nil),
	)
	require.NoError(ts.t, err, "Failed to create session client")
	ts.Client = client

	ts.Router = unit.NewTestHelper(ts.t).SetupTestGin()
	handlers.RegisterHealthRoutes(ts.Router)
	handlers.RegisterSessionRoutes(ts.Router, handlers.NewSessionHandler(client))
}

// Serve 以真实 HTTP 服务暴露当前路由，WebSocket 测试需要
func (ts *TestSuite) Serve() *httptest.Server {
	srv := httptest.NewServer(ts.Router)
	ts.t.Cleanup(srv.Close)
	return srv
}

// StoredRecords 读取存储中的 Cookie 记录
func (ts *TestSuite) StoredRecords() []cookies.Record {
	ts.t.Helper()
	records, err := ts.store.Load(context.Background())
	require.NoError(ts.t, err, "Failed to read cookie store")
	return records
}

func (ts *TestSuite) closeStore() {
	if s, ok := ts.store.(*cookies.SQLiteStore); ok {
		_ = s.Close()
	}
	ts.store = nil
}

// WaitForCondition 等待条件满足
func (ts *TestSuite) WaitForCondition(condition func() bool, timeout time.Duration, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ts.t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}
