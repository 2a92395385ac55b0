package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/smartbin/internal/database"
	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/store"
)

var _ Store = (*store.SessionStore)(nil)

func setupManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(store.NewSessionStore(db), ttl, false)
}

func testUser() *model.User {
	provider := model.AuthProviderGoogle
	return &model.User{ID: "user-1", Email: "alice@example.com", FirstName: "Alice", LastName: "Liddell", AuthProvider: &provider}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", CookieName)
	return nil
}

func TestStartSetsCookie(t *testing.T) {
	m := setupManager(t, 0)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/login", nil)

	sess, err := m.Start(context.Background(), rec, req, testUser())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.AuthProvider != "google" {
		t.Errorf("auth provider = %q, want google", sess.AuthProvider)
	}

	c := sessionCookie(t, rec)
	if c.Value != sess.Token {
		t.Error("cookie value should be the session token")
	}
	if !c.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if c.MaxAge != int(DefaultTTL.Seconds()) {
		t.Errorf("max age = %d, want %d", c.MaxAge, int(DefaultTTL.Seconds()))
	}
}

func TestFromRequest(t *testing.T) {
	m := setupManager(t, time.Hour)
	rec := httptest.NewRecorder()
	sess, err := m.Start(context.Background(), rec, httptest.NewRequest("POST", "/login", nil), testUser())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	req := httptest.NewRequest("GET", "/scan", nil)
	req.AddCookie(sessionCookie(t, rec))
	got, err := m.FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if got == nil || got.UserID != sess.UserID || got.FirstName != "Alice" {
		t.Errorf("session = %+v, want alice", got)
	}
}

func TestFromRequestNoCookie(t *testing.T) {
	m := setupManager(t, time.Hour)

	got, err := m.FromRequest(httptest.NewRequest("GET", "/scan", nil))
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if got != nil {
		t.Error("expected nil session without cookie")
	}
}

func TestFromRequestUnknownToken(t *testing.T) {
	m := setupManager(t, time.Hour)
	req := httptest.NewRequest("GET", "/scan", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"})

	got, err := m.FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if got != nil {
		t.Error("expected nil session for unknown token")
	}
}

func TestFromRequestExpired(t *testing.T) {
	m := setupManager(t, time.Hour)
	rec := httptest.NewRecorder()
	if _, err := m.Start(context.Background(), rec, httptest.NewRequest("POST", "/login", nil), testUser()); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	req := httptest.NewRequest("GET", "/scan", nil)
	req.AddCookie(sessionCookie(t, rec))
	got, err := m.FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if got != nil {
		t.Error("expected nil for expired session")
	}
}

func TestEnd(t *testing.T) {
	m := setupManager(t, time.Hour)
	rec := httptest.NewRecorder()
	if _, err := m.Start(context.Background(), rec, httptest.NewRequest("POST", "/login", nil), testUser()); err != nil {
		t.Fatalf("start: %v", err)
	}
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest("GET", "/logout", nil)
	req.AddCookie(cookie)
	out := httptest.NewRecorder()
	if err := m.End(out, req); err != nil {
		t.Fatalf("end: %v", err)
	}
	if c := sessionCookie(t, out); c.MaxAge != -1 {
		t.Errorf("cleared cookie max age = %d, want -1", c.MaxAge)
	}

	req = httptest.NewRequest("GET", "/scan", nil)
	req.AddCookie(cookie)
	got, err := m.FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if got != nil {
		t.Error("session should be gone after End")
	}
}

type failingStore struct{ Store }

func (failingStore) Delete(context.Context, string) error { return errors.New("store down") }

func TestEndClearsCookieOnStoreError(t *testing.T) {
	m := NewManager(failingStore{}, time.Hour, false)
	req := httptest.NewRequest("GET", "/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok"})
	rec := httptest.NewRecorder()

	if err := m.End(rec, req); err == nil {
		t.Fatal("expected store error")
	}
	if c := sessionCookie(t, rec); c.MaxAge != -1 {
		t.Errorf("cookie should be cleared even when delete fails")
	}
}

func TestSecureCookie(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	defer db.Close()
	m := NewManager(store.NewSessionStore(db), time.Hour, true)

	rec := httptest.NewRecorder()
	if _, err := m.Start(context.Background(), rec, httptest.NewRequest("POST", "/login", nil), testUser()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !sessionCookie(t, rec).Secure {
		t.Error("cookie should be Secure")
	}
}
