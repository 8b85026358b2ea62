package unit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelper gin 路由测试辅助
type TestHelper struct {
	t *testing.T
}

// NewTestHelper 创建测试辅助实例
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// SetupTestGin 返回不带中间件的测试引擎
func (h *TestHelper) SetupTestGin() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// MakeRequest 构造请求，body 非 nil 时编码为 JSON
func (h *TestHelper) MakeRequest(method, target string, body interface{}) *http.Request {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err, "request body must be JSON encodable")
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// ExecuteRequest 在引擎上执行请求
func (h *TestHelper) ExecuteRequest(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// DecodeJSON 将响应体解码到 v
func (h *TestHelper) DecodeJSON(w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), v), "response body must be JSON: %s", w.Body.String())
}

// AssertJSONResponse 断言状态码，并按 JSON 语义比较响应体
func (h *TestHelper) AssertJSONResponse(w *httptest.ResponseRecorder, expectedCode int, expectedBody interface{}) {
	h.AssertStatusCode(w, expectedCode)
	assert.Equal(h.t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	if expectedBody == nil {
		return
	}
	expected, err := json.Marshal(expectedBody)
	require.NoError(h.t, err)
	assert.JSONEq(h.t, string(expected), w.Body.String())
}

// AssertErrorCode 断言错误响应的状态码和错误码
func (h *TestHelper) AssertErrorCode(w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	h.AssertStatusCode(w, expectedStatus)

	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	h.DecodeJSON(w, &body)
	assert.False(h.t, body.Success)
	assert.Equal(h.t, expectedCode, body.Code)
}

// AssertStatusCode 断言状态码
func (h *TestHelper) AssertStatusCode(w *httptest.ResponseRecorder, expectedCode int) {
	assert.Equal(h.t, expectedCode, w.Code, "unexpected status, body: %s", w.Body.String())
}
