// Package session issues and resolves the server-side sessions behind the
// smartbin_session cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/dukerupert/smartbin/internal/model"
)

const (
	CookieName = "smartbin_session"
	DefaultTTL = 30 * 24 * time.Hour
)

// Store persists sessions. Get returns nil, nil for unknown or expired tokens.
type Store interface {
	Save(ctx context.Context, sess *model.Session) error
	Get(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Manager ties a Store to the session cookie.
type Manager struct {
	store  Store
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager returns a Manager. A non-positive ttl selects DefaultTTL.
// secure marks the cookie Secure regardless of the request's TLS state.
func NewManager(store Store, ttl time.Duration, secure bool) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, secure: secure, now: time.Now}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Start creates a session for u and sets the cookie on w.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, u *model.User) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sess := &model.Session{
		Token:     token,
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if u.AuthProvider != nil {
		sess.AuthProvider = *u.AuthProvider
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure || r.TLS != nil,
	})
	return sess, nil
}

// FromRequest resolves the cookie on r. It returns nil, nil when the request
// carries no valid session.
func (m *Manager) FromRequest(r *http.Request) (*model.Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	sess, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Expired(m.now()) {
		return nil, nil
	}
	return sess, nil
}

// End deletes the session named by the cookie, if any, and always clears
// the cookie. The store error is returned after the cookie is cleared.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	var err error
	if cookie, cerr := r.Cookie(CookieName); cerr == nil && cookie.Value != "" {
		err = m.store.Delete(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions from the store.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx)
}
