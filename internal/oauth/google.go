// Package oauth implements the Google sign-in flow: authorization URL,
// code exchange and profile lookup through the OIDC userinfo endpoint.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const DefaultIssuer = "https://accounts.google.com"

// ErrEmailUnverified is returned for profiles whose email the issuer has
// not verified. Such an email cannot be trusted to match a local account.
var ErrEmailUnverified = errors.New("oauth email is not verified")

// Config holds the client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Issuer defaults to DefaultIssuer.
	Issuer string
}

// Profile is the subset of userinfo claims the app uses.
type Profile struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// Google performs the authorization code flow against an OIDC issuer.
type Google struct {
	oauth2   *oauth2.Config
	provider *oidc.Provider
}

// NewGoogle fetches the issuer's discovery document.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("google redirect uri is required")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", issuer, err)
	}

	endpoint := provider.Endpoint()
	if strings.TrimRight(issuer, "/") == DefaultIssuer {
		endpoint = google.Endpoint
	}

	return &Google{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		provider: provider,
	}, nil
}

// AuthURL returns the consent screen URL for state.
func (g *Google) AuthURL(state string) string {
	return g.oauth2.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades code for a token and loads the user's profile.
func (g *Google) Exchange(ctx context.Context, code string) (*Profile, error) {
	tok, err := g.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	info, err := g.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}

	var claims struct {
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}

	if info.Email != "" && !info.EmailVerified {
		return nil, ErrEmailUnverified
	}

	return &Profile{
		Subject:   info.Subject,
		Email:     info.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
	}, nil
}
