package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/smartbin/internal/claim"
	"github.com/dukerupert/smartbin/internal/database"
	"github.com/dukerupert/smartbin/internal/identity"
	"github.com/dukerupert/smartbin/internal/metrics"
	"github.com/dukerupert/smartbin/internal/middleware"
	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/oauth"
	"github.com/dukerupert/smartbin/internal/points"
	"github.com/dukerupert/smartbin/internal/session"
	"github.com/dukerupert/smartbin/internal/store"
	websocket "github.com/dukerupert/smartbin/internal/websocket"
)

type testServer struct {
	*httptest.Server
	backend  *store.SQLite
	sessions *session.Manager
	hub      *websocket.Hub
	client   *http.Client
	metrics  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	backend := store.NewSQLite(db)
	hub := websocket.NewHub(logger, m)
	sessions := session.NewManager(store.NewSessionStore(db), time.Hour, false)

	srv, err := New(Deps{
		Identity: identity.NewService(backend, nil, logger),
		Claims:   claim.NewService(backend, points.DefaultPolicy(), hub, logger),
		Policy:   points.DefaultPolicy(),
		Sessions: sessions,
		State:    oauth.NewStateSigner("test-secret", time.Minute),
		Hub:      hub,
		Limiter:  middleware.NewMemoryRateLimiter(),
		Metrics:  m,
		Logger:   logger,
	})
	require.NoError(t, err)

	ts := &testServer{
		Server:   httptest.NewServer(srv.Router()),
		backend:  backend,
		sessions: sessions,
		hub:      hub,
		metrics:  srv.MetricsRouter(),
	}
	t.Cleanup(ts.Close)
	ts.client = &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	return ts
}

// signIn returns the Cookie header value of a fresh session for a new user.
func (ts *testServer) signIn(t *testing.T, email string) (*model.User, string) {
	t.Helper()
	u, err := ts.backend.CreateUser(t.Context(), model.NewUser{Email: email, FirstName: "Sam", LastName: "Green"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	sess, err := ts.sessions.Start(t.Context(), rec, httptest.NewRequest("POST", "/login", nil), u)
	require.NoError(t, err)
	return u, session.CookieName + "=" + sess.Token
}

func (ts *testServer) get(t *testing.T, path, cookie string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", ts.URL+path, nil)
	require.NoError(t, err)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	rec := httptest.NewRecorder()
	ts.metrics.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `smartbin_http_requests_total{method="GET",route="GET /health",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsNotOnAppListener(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/static/css/app.css", "/static/js/scan.js"} {
		resp := ts.get(t, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	resp := ts.get(t, "/static/missing.js", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginIsRateLimited(t *testing.T) {
	ts := newTestServer(t)
	form := url.Values{"email": {"x@example.com"}, "password": {"wrong-password"}}

	for i := 0; i < authRateLimit; i++ {
		resp, err := ts.client.PostForm(ts.URL+"/login", form)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusSeeOther, resp.StatusCode, "request %d", i+1)
	}
	resp, err := ts.client.PostForm(ts.URL+"/login", form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Signup has its own budget.
	resp, err = ts.client.PostForm(ts.URL+"/signup", url.Values{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestScanRateLimitAnswersJSON(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.signIn(t, "rate@example.com")

	scan := func() *http.Response {
		req, err := http.NewRequest("POST", ts.URL+"/api/scan", strings.NewReader(`{"qr_data":"@SvenX-SmartBin:session_id=none"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cookie", cookie)
		resp, err := ts.client.Do(req)
		require.NoError(t, err)
		return resp
	}
	for i := 0; i < scanRateLimit; i++ {
		resp := scan()
		resp.Body.Close()
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode, "request %d", i+1)
	}

	resp := scan()
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "Too many requests", body.Message)
}

func TestScanPushesLiveStats(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.signIn(t, "sam@example.com")
	_, err := ts.backend.CreateClaim(t.Context(), 3, "live-1", model.Influx{"plastic_bottle": 2, "can": 2})
	require.NoError(t, err)

	ctx := t.Context()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &ws.DialOptions{
		HTTPHeader: http.Header{"Cookie": {cookie}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	req, err := http.NewRequest("POST", ts.URL+"/api/scan", strings.NewReader(`{"qr_data":"@SvenX-SmartBin:session_id=live-1"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookie)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg websocket.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, websocket.TypeWasteStatsUpdated, msg.Type)
	require.NotNil(t, msg.WasteStats)
	assert.Equal(t, model.WasteStats{Can: 2, PlasticBottle: 2, TotalPoints: 16}, *msg.WasteStats)
}

func TestWebSocketRequiresLogin(t *testing.T) {
	ts := newTestServer(t)
	_, resp, err := ws.Dial(t.Context(), "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIStatsAnonymous(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
