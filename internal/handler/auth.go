package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartbin/internal/identity"
	"github.com/dukerupert/smartbin/internal/metrics"
	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/oauth"
	"github.com/dukerupert/smartbin/internal/session"
)

const stateCookieName = "smartbin_oauth_state"

// AuthURLSource builds the provider's consent URL for a state value.
type AuthURLSource interface {
	AuthURL(state string) string
}

type AuthHandler struct {
	identity *identity.Service
	sessions *session.Manager
	google   AuthURLSource
	state    *oauth.StateSigner
	secure   bool
	renderer *Renderer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAuthHandler returns an AuthHandler. google may be nil when Google
// sign-in is not configured.
func NewAuthHandler(
	ids *identity.Service,
	sessions *session.Manager,
	google AuthURLSource,
	state *oauth.StateSigner,
	secure bool,
	renderer *Renderer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		identity: ids,
		sessions: sessions,
		google:   google,
		state:    state,
		secure:   secure,
		renderer: renderer,
		metrics:  m,
		logger:   logger,
	}
}

func (h *AuthHandler) googleEnabled() bool {
	return h.google != nil && h.identity.GoogleEnabled()
}

func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.render(w, r, "login.html", pageData{GoogleEnabled: h.googleEnabled()})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, "/login", "error", "Invalid email or password")
		return
	}

	u, err := h.identity.Login(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if errors.Is(err, identity.ErrInvalidCredentials) {
		h.metrics.RecordLogin("password", "failure")
		redirectWithFlash(w, r, "/login", "error", "Invalid email or password")
		return
	}
	if err != nil {
		h.metrics.RecordLogin("password", "error")
		h.logger.Error("login", "error", err)
		redirectWithFlash(w, r, "/login", "error", "Error during login")
		return
	}

	if !h.startSession(w, r, u, "password") {
		redirectWithFlash(w, r, "/login", "error", "Error during login")
		return
	}
	redirectWithFlash(w, r, "/scan", "success", "Login successful!")
}

func (h *AuthHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.render(w, r, "signup.html", pageData{
		GoogleEnabled:     h.googleEnabled(),
		MinPasswordLength: identity.MinPasswordLength,
	})
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, "/signup", "error", "Error during signup")
		return
	}

	_, err := h.identity.Signup(r.Context(), identity.SignupInput{
		Email:     r.PostFormValue("email"),
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Password:  r.PostFormValue("password"),
	})
	switch {
	case err == nil:
		redirectWithFlash(w, r, "/login", "success", "Account created successfully! Please login.")
	case errors.Is(err, identity.ErrEmailExists):
		redirectWithFlash(w, r, "/signup", "error", "Email already exists")
	case errors.Is(err, identity.ErrMissingFields):
		redirectWithFlash(w, r, "/signup", "error", "All fields are required")
	case errors.Is(err, identity.ErrPasswordTooShort):
		redirectWithFlash(w, r, "/signup", "error", "Password must be at least 8 characters")
	default:
		h.logger.Error("signup", "error", err)
		redirectWithFlash(w, r, "/signup", "error", "Error during signup")
	}
}

// Logout always clears the cookie, even if the stored session cannot be deleted.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(w, r); err != nil {
		h.logger.Error("end session", "error", err)
	}
	redirectWithFlash(w, r, "/login", "success", "You have been logged out")
}

// GoogleStart redirects to Google's consent page with a signed state whose
// nonce is pinned in a cookie.
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if !h.googleEnabled() {
		redirectWithFlash(w, r, "/login", "error", "Google OAuth not configured")
		return
	}

	state, nonce, err := h.state.Issue()
	if err != nil {
		h.logger.Error("issue oauth state", "error", err)
		redirectWithFlash(w, r, "/login", "error", "Error during login")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    nonce,
		Path:     "/auth/google",
		MaxAge:   int(h.state.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secure || r.TLS != nil,
	})
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	var nonce string
	if c, err := r.Cookie(stateCookieName); err == nil {
		nonce = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
	})

	if !h.googleEnabled() {
		redirectWithFlash(w, r, "/login", "error", "Google OAuth not configured")
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.metrics.RecordLogin("google", "failure")
		redirectWithFlash(w, r, "/login", "error", "Google OAuth error: "+e)
		return
	}
	code := q.Get("code")
	if code == "" {
		h.metrics.RecordLogin("google", "failure")
		redirectWithFlash(w, r, "/login", "error", "No authorization code received")
		return
	}
	if err := h.state.Verify(q.Get("state"), nonce); err != nil {
		h.metrics.RecordLogin("google", "failure")
		h.logger.Warn("oauth state rejected", "error", err)
		redirectWithFlash(w, r, "/login", "error", "Invalid OAuth state. Please try again.")
		return
	}

	u, err := h.identity.OAuthLogin(r.Context(), code)
	if err != nil {
		h.metrics.RecordLogin("google", "error")
		h.logger.Error("oauth login", "error", err)
		msg := "Error during Google authentication"
		switch {
		case errors.Is(err, identity.ErrProfileIncomplete):
			msg = "Failed to get user information from Google"
		case errors.Is(err, oauth.ErrEmailUnverified):
			msg = "Google account email is not verified"
		}
		redirectWithFlash(w, r, "/login", "error", msg)
		return
	}

	if !h.startSession(w, r, u, "google") {
		redirectWithFlash(w, r, "/login", "error", "Error during Google authentication")
		return
	}
	redirectWithFlash(w, r, "/scan", "success", "Successfully logged in with Google!")
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, u *model.User, method string) bool {
	if _, err := h.sessions.Start(r.Context(), w, r, u); err != nil {
		h.metrics.RecordLogin(method, "error")
		h.logger.Error("start session", "user_id", u.ID, "error", err)
		return false
	}
	h.metrics.RecordLogin(method, "success")
	h.logger.Info("user logged in", "user_id", u.ID, "method", method)
	return true
}
