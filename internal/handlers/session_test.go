package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"uestcauth/internal/errors"
	"uestcauth/internal/session"
	"uestcauth/test/unit"
)

// mockAuth Authenticator 的 testify mock
type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) Login(ctx context.Context, username, password string) error {
	return m.Called(ctx, username, password).Error(0)
}

func (m *mockAuth) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockAuth) IsSessionActive(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *mockAuth) StartWeChatLogin(ctx context.Context) *session.LoginAttempt {
	return m.Called(ctx).Get(0).(*session.LoginAttempt)
}

func TestSessionStatus(t *testing.T) {
	helper := unit.NewTestHelper(t)

	for _, active := range []bool{true, false} {
		auth := &mockAuth{}
		auth.On("IsSessionActive", mock.Anything).Return(active).Once()

		r := helper.SetupTestGin()
		RegisterSessionRoutes(r, NewSessionHandler(auth))

		w := helper.ExecuteRequest(r, helper.MakeRequest("GET", "/api/v1/session", nil))
		helper.AssertStatusCode(w, http.StatusOK)

		var resp SessionStatusResponse
		helper.DecodeJSON(w, &resp)
		assert.True(t, resp.Success)
		assert.Equal(t, active, resp.Active)
		auth.AssertExpectations(t)
	}
}

func TestSessionLogin(t *testing.T) {
	helper := unit.NewTestHelper(t)

	tests := []struct {
		name         string
		body         LoginRequest
		loginErr     error
		expectedCode int
		expectedBody interface{}
		errCode      errors.ErrorCode
	}{
		{
			name:         "successful login",
			body:         LoginRequest{Username: "2024000001", Password: "pw"},
			expectedCode: http.StatusOK,
			expectedBody: ActionResponse{Success: true},
		},
		{
			name:         "portal rejects credentials",
			body:         LoginRequest{Username: "2024000001", Password: "bad"},
			loginErr:     errors.ErrLoginFailed("您提供的用户名或者密码有误"),
			expectedCode: http.StatusUnauthorized,
			expectedBody: ErrorResponse{Success: false, Message: "您提供的用户名或者密码有误", Code: string(errors.ErrCodeLoginRejected)},
		},
		{
			name:         "portal unreachable",
			body:         LoginRequest{Username: "2024000001", Password: "pw"},
			loginErr:     errors.ErrNetwork("GET", "https://idas.uestc.edu.cn/authserver/login", context.DeadlineExceeded),
			expectedCode: http.StatusBadGateway,
			errCode:      errors.ErrCodeNetworkRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuth{}
			auth.On("Login", mock.Anything, tt.body.Username, tt.body.Password).Return(tt.loginErr).Once()

			r := helper.SetupTestGin()
			RegisterSessionRoutes(r, NewSessionHandler(auth))

			w := helper.ExecuteRequest(r, helper.MakeRequest("POST", "/api/v1/login", tt.body))
			if tt.errCode != "" {
				helper.AssertErrorCode(w, tt.expectedCode, string(tt.errCode))
			} else {
				helper.AssertJSONResponse(w, tt.expectedCode, tt.expectedBody)
			}
			auth.AssertExpectations(t)
		})
	}
}

func TestSessionLoginInvalidRequest(t *testing.T) {
	helper := unit.NewTestHelper(t)
	auth := &mockAuth{}
	r := helper.SetupTestGin()
	RegisterSessionRoutes(r, NewSessionHandler(auth))

	w := helper.ExecuteRequest(r, helper.MakeRequest("POST", "/api/v1/login", map[string]string{"username": "u"}))
	helper.AssertErrorCode(w, http.StatusBadRequest, string(errors.ErrCodeValidationFailed))
	auth.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionLogout(t *testing.T) {
	helper := unit.NewTestHelper(t)

	ok := &mockAuth{}
	ok.On("Logout", mock.Anything).Return(nil).Once()
	r := helper.SetupTestGin()
	RegisterSessionRoutes(r, NewSessionHandler(ok))
	w := helper.ExecuteRequest(r, helper.MakeRequest("POST", "/api/v1/logout", nil))
	helper.AssertJSONResponse(w, http.StatusOK, ActionResponse{Success: true})

	rejected := &mockAuth{}
	rejected.On("Logout", mock.Anything).Return(errors.ErrLogoutFailed("logout failed with status 500")).Once()
	r = helper.SetupTestGin()
	RegisterSessionRoutes(r, NewSessionHandler(rejected))
	w = helper.ExecuteRequest(r, helper.MakeRequest("POST", "/api/v1/logout", nil))
	helper.AssertErrorCode(w, http.StatusBadGateway, string(errors.ErrCodeLogoutRejected))

	ok.AssertExpectations(t)
	rejected.AssertExpectations(t)
}

func TestSessionHandlerWithoutClient(t *testing.T) {
	helper := unit.NewTestHelper(t)
	r := helper.SetupTestGin()
	RegisterSessionRoutes(r, NewSessionHandler(nil))

	w := helper.ExecuteRequest(r, helper.MakeRequest("GET", "/api/v1/session", nil))
	helper.AssertStatusCode(w, http.StatusInternalServerError)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusForError(errors.ErrValidationFailed("username", "cannot be empty")))
	assert.Equal(t, http.StatusUnauthorized, StatusForError(errors.ErrSessionExpired()))
	assert.Equal(t, http.StatusBadGateway, StatusForError(errors.ErrWeChat(errors.ErrCodeQRExpired, "QR code expired")))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(errors.ErrCookie(errors.CookieOpWrite, "x", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(context.Canceled))
}

func newStreamServer(t *testing.T, fake *unit.FakePortal) *httptest.Server {
	t.Helper()
	client, err := session.New(fake.Config(), session.WithDisplayer(nil))
	require.NoError(t, err)

	r := unit.NewTestHelper(t).SetupTestGin()
	RegisterSessionRoutes(r, NewSessionHandler(client))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/wechat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWeChatStream(t *testing.T) {
	fake := unit.NewFakePortal(t)
	fake.ScriptPolls(
		"window.wx_errcode=404;",
		"window.wx_errcode=405;window.wx_code='"+unit.FakeWxCode+"';",
	)
	conn := dialStream(t, newStreamServer(t, fake))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var events []session.Event
	for {
		var e session.Event
		if err := conn.ReadJSON(&e); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		events = append(events, e)
	}

	require.Len(t, events, 4)
	assert.Equal(t, session.EventQRCode, events[0].Type)
	assert.Equal(t, fake.WeChat.URL+"/connect/confirm?uuid="+unit.FakeQRUUID, events[0].QRURL)
	assert.Equal(t, "scanned", events[1].Status)
	assert.Equal(t, "confirmed", events[2].Status)
	assert.Equal(t, session.EventDone, events[3].Type)
	for _, e := range events {
		assert.Equal(t, events[0].AttemptID, e.AttemptID)
	}
}

func TestWeChatStreamExpired(t *testing.T) {
	fake := unit.NewFakePortal(t)
	fake.ScriptPolls("window.wx_errcode=402;")
	conn := dialStream(t, newStreamServer(t, fake))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var last session.Event
	for {
		var e session.Event
		if err := conn.ReadJSON(&e); err != nil {
			break
		}
		last = e
	}
	assert.Equal(t, session.EventError, last.Type)
	assert.Contains(t, last.Message, "QR code expired")
}

func TestWeChatStreamClientDisconnect(t *testing.T) {
	fake := unit.NewFakePortal(t)
	conn := dialStream(t, newStreamServer(t, fake))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var first session.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, session.EventQRCode, first.Type)
	require.NoError(t, conn.Close())

	// 断开后服务端停止轮询
	require.Eventually(t, func() bool {
		n := len(fake.Polls())
		time.Sleep(50 * time.Millisecond)
		return len(fake.Polls()) == n
	}, 5*time.Second, 10*time.Millisecond)
}
