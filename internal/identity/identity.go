// Package identity signs users up and in, by password or Google.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/oauth"
	"github.com/dukerupert/smartbin/internal/store"
)

const MinPasswordLength = 8

var (
	ErrMissingFields      = errors.New("email, first name, last name and password are required")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrProfileIncomplete  = errors.New("oauth profile has no email")
	ErrOAuthNotConfigured = errors.New("google oauth not configured")
	ErrMissingAuthCode    = errors.New("no authorization code received")
)

// ProfileSource exchanges an authorization code for the user's profile.
type ProfileSource interface {
	Exchange(ctx context.Context, code string) (*oauth.Profile, error)
}

type SignupInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

type Service struct {
	users  store.Users
	google ProfileSource
	cost   int
	logger *slog.Logger
}

// NewService returns a Service. google may be nil when OAuth is not set up.
func NewService(users store.Users, google ProfileSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, google: google, cost: bcrypt.DefaultCost, logger: logger}
}

func (s *Service) GoogleEnabled() bool { return s.google != nil }

func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.Email == "" || in.FirstName == "" || in.LastName == "" || in.Password == "" {
		return nil, ErrMissingFields
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	existing, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("signup lookup: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	hashStr := string(hash)

	u, err := s.users.CreateUser(ctx, model.NewUser{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: &hashStr,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user signed up", "user_id", u.ID)
	return u, nil
}

// Login verifies the password. Every credential failure, including an
// account without a bcrypt hash, is ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login lookup: %w", err)
	}
	if u == nil || u.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Warn("stored password is not a bcrypt hash", "user_id", u.ID)
		}
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// OAuthLogin resolves a Google authorization code to a user, creating the
// account on first sign-in.
func (s *Service) OAuthLogin(ctx context.Context, code string) (*model.User, error) {
	if s.google == nil {
		return nil, ErrOAuthNotConfigured
	}
	if code == "" {
		return nil, ErrMissingAuthCode
	}

	profile, err := s.google.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(profile.Email)
	if email == "" {
		return nil, ErrProfileIncomplete
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("oauth lookup: %w", err)
	}
	if u != nil {
		return u, nil
	}

	provider := model.AuthProviderGoogle
	u, err = s.users.CreateUser(ctx, model.NewUser{
		Email:        email,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		AuthProvider: &provider,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		// Concurrent first sign-in created the account.
		u, err = s.users.GetUserByEmail(ctx, email)
		if err == nil && u == nil {
			err = errors.New("user vanished after duplicate insert")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("provision oauth user: %w", err)
	}
	s.logger.Info("oauth user provisioned", "user_id", u.ID, "provider", provider)
	return u, nil
}
