package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	engine *gin.Engine
	store  *app.RoomManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, config.WSConfig{}, 1)
}

func newFixtureWith(t *testing.T, ws config.WSConfig, maxCandidates int) *fixture {
	t.Helper()
	store := app.NewRoomManager(context.Background(), app.Options{Policy: app.SetOnce, MaxCandidates: maxCandidates})
	t.Cleanup(store.Close)
	cfg := &config.Config{Mode: "test", Secret: "test-secret", ReadLimit: 32768, PingPeriod: time.Minute, WS: ws}
	return &fixture{engine: SetupRouter(context.Background(), cfg, store, app.NewRegistry()), store: store}
}

func (f *fixture) doAs(t *testing.T, cookies []*http.Cookie, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestVoiceRoutes_HappyPath(t *testing.T) {
	f := newFixture(t)
	const base = "/api/rooms/lobby/voice"

	w := f.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, base+"/start", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, base+"/offer", `{"sdp":"o"}`).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, base+"/candidates", `{"candidate":"c1","sdpMLineIndex":0}`).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, base+"/answer", `{"sdp":"a"}`).Code)

	w = f.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"offer":"o","answer":"a","iceCandidates":[{"candidate":"c1","sdpMLineIndex":0}]}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/voice/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":[{"room":"lobby","phase":"answered","candidates":1,"clients":0}],"clients":0}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, base, "").Code)
	assert.Equal(t, "null", f.do(t, http.MethodGet, base, "").Body.String())
}

func TestVoiceRoutes_ErrorStatus(t *testing.T) {
	f := newFixture(t)
	const base = "/api/rooms/lobby/voice"

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"offer without session", http.MethodPut, base + "/offer", `{"sdp":"o"}`, http.StatusNotFound, "no_session"},
		{"start", http.MethodPost, base + "/start", "", http.StatusNoContent, ""},
		{"answer without offer", http.MethodPut, base + "/answer", `{"sdp":"a"}`, http.StatusConflict, "no_offer"},
		{"empty offer", http.MethodPut, base + "/offer", `{"sdp":""}`, http.StatusBadRequest, "empty_sdp"},
		{"broken json", http.MethodPut, base + "/offer", `{"sdp":`, http.StatusBadRequest, "bad_payload"},
		{"offer", http.MethodPut, base + "/offer", `{"sdp":"o"}`, http.StatusNoContent, ""},
		{"second offer", http.MethodPut, base + "/offer", `{"sdp":"o2"}`, http.StatusConflict, "offer_exists"},
		{"empty candidate", http.MethodPost, base + "/candidates", `{"candidate":""}`, http.StatusBadRequest, "invalid_candidate"},
		{"candidate", http.MethodPost, base + "/candidates", `{"candidate":"c"}`, http.StatusNoContent, ""},
		{"candidate over limit", http.MethodPost, base + "/candidates", `{"candidate":"c"}`, http.StatusTooManyRequests, "candidate_limit"},
		{"invalid room", http.MethodGet, "/api/rooms/" + strings.Repeat("x", domain.MaxRoomIDLen+1) + "/voice", "", http.StatusBadRequest, "room_too_long"},
	}
	for _, tc := range cases {
		w := f.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, tc.status, w.Code, tc.name)
		if tc.code != "" {
			assert.Equal(t, tc.code, errorBody(t, w), tc.name)
		}
	}
}

func TestVoiceRoutes_CandidateRateLimitPerClient(t *testing.T) {
	f := newFixtureWith(t, config.WSConfig{CandidateRate: 2, CandidateWindow: time.Minute}, 0)
	const base = "/api/rooms/lobby/voice"

	w := f.do(t, http.MethodPost, base+"/start", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	alice := w.Result().Cookies()
	require.NotEmpty(t, alice)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNoContent, f.doAs(t, alice, http.MethodPost, base+"/candidates", `{"candidate":"c"}`).Code)
	}
	w = f.doAs(t, alice, http.MethodPost, base+"/candidates", `{"candidate":"c"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorBody(t, w))

	// Another client has its own budget.
	bob := f.do(t, http.MethodGet, base, "").Result().Cookies()
	assert.Equal(t, http.StatusNoContent, f.doAs(t, bob, http.MethodPost, base+"/candidates", `{"candidate":"c"}`).Code)

	snap, err := f.store.GetVoiceSessionState(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Len(t, snap.ICECandidates, 3)
}

func TestVoiceRoutes_StoreClosed(t *testing.T) {
	f := newFixture(t)
	f.store.Close()

	w := f.do(t, http.MethodPost, "/api/rooms/lobby/voice/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "store_closed", errorBody(t, w))
}

func TestClientTokenMiddleware(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rooms/lobby/voice", "")
	var token string
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		switch c.Name {
		case clientTokenCookie:
			token = c.Value
		case "VoiceSessions":
			session = c
		}
	}
	require.NotEmpty(t, token)
	require.NotNil(t, session)

	// The signed session wins over a tampered ct cookie.
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/lobby/voice", nil)
	req.AddCookie(session)
	req.AddCookie(&http.Cookie{Name: clientTokenCookie, Value: "forged"})
	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == clientTokenCookie {
			assert.Equal(t, token, c.Value)
		}
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(fmt.Errorf("x: %w", domain.ErrNoSession)))
	assert.Equal(t, http.StatusConflict, StatusOf(domain.ErrAnswerExists))
	assert.Equal(t, http.StatusGatewayTimeout, StatusOf(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
