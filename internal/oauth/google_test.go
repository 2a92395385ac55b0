package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	srv  *httptest.Server
	code string
	// userinfo is served verbatim to a request bearing the issued token.
	userinfo map[string]any
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	f := &fakeIssuer{
		code: "good-code",
		userinfo: map[string]any{
			"sub":            "1234",
			"email":          "ada@example.com",
			"email_verified": true,
			"given_name":     "Ada",
			"family_name":    "Lovelace",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 f.srv.URL,
			"authorization_endpoint": f.srv.URL + "/auth",
			"token_endpoint":         f.srv.URL + "/token",
			"userinfo_endpoint":      f.srv.URL + "/userinfo",
			"jwks_uri":               f.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != f.code {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.userinfo)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestGoogle(t *testing.T, f *fakeIssuer) *Google {
	t.Helper()
	g, err := NewGoogle(t.Context(), Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:5000/auth/google/callback",
		Issuer:       f.srv.URL,
	})
	require.NoError(t, err)
	return g
}

func TestNewGoogleRequiresCredentials(t *testing.T) {
	_, err := NewGoogle(t.Context(), Config{RedirectURL: "http://localhost/cb"})
	assert.Error(t, err)
	_, err = NewGoogle(t.Context(), Config{ClientID: "id", ClientSecret: "secret"})
	assert.Error(t, err)
}

func TestAuthURL(t *testing.T) {
	g := newTestGoogle(t, newFakeIssuer(t))

	u, err := url.Parse(g.AuthURL("state-xyz"))
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "/auth", u.Path)
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:5000/auth/google/callback", q.Get("redirect_uri"))
}

func TestExchange(t *testing.T) {
	f := newFakeIssuer(t)
	g := newTestGoogle(t, f)

	p, err := g.Exchange(t.Context(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &Profile{Subject: "1234", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"}, p)
}

func TestExchangeBadCode(t *testing.T) {
	g := newTestGoogle(t, newFakeIssuer(t))

	_, err := g.Exchange(t.Context(), "bad-code")
	assert.ErrorContains(t, err, "exchange code")
}

func TestExchangeWithoutEmail(t *testing.T) {
	f := newFakeIssuer(t)
	delete(f.userinfo, "email")
	delete(f.userinfo, "family_name")
	g := newTestGoogle(t, f)

	p, err := g.Exchange(t.Context(), "good-code")
	require.NoError(t, err)
	assert.Empty(t, p.Email)
	assert.Empty(t, p.LastName)
	assert.Equal(t, "Ada", p.FirstName)
}

func TestExchangeRejectsUnverifiedEmail(t *testing.T) {
	for _, verified := range []any{false, nil} {
		f := newFakeIssuer(t)
		if verified == nil {
			delete(f.userinfo, "email_verified")
		} else {
			f.userinfo["email_verified"] = verified
		}
		g := newTestGoogle(t, f)

		p, err := g.Exchange(t.Context(), "good-code")
		assert.ErrorIs(t, err, ErrEmailUnverified, "email_verified=%v", verified)
		assert.Nil(t, p)
	}
}
