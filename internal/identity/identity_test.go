package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/smartbin/internal/database"
	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/oauth"
	"github.com/dukerupert/smartbin/internal/store"
)

type fakeGoogle struct {
	profile *oauth.Profile
	err     error
	codes   []string
}

func (f *fakeGoogle) Exchange(_ context.Context, code string) (*oauth.Profile, error) {
	f.codes = append(f.codes, code)
	return f.profile, f.err
}

func setupService(t *testing.T, google ProfileSource) (*Service, *store.SQLite) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := store.NewSQLite(db)
	svc := NewService(users, google, nil)
	svc.cost = bcrypt.MinCost
	return svc, users
}

func validSignup() SignupInput {
	return SignupInput{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Password: "correct horse"}
}

func TestSignup(t *testing.T) {
	svc, users := setupService(t, nil)
	ctx := context.Background()

	in := validSignup()
	in.Email = "  ada@example.com "
	u, err := svc.Signup(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Nil(t, u.AuthProvider)

	stored, err := users.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordHash)
	assert.NotEqual(t, "correct horse", *stored.PasswordHash, "password must not be stored in clear")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*stored.PasswordHash), []byte("correct horse")))
}

func TestSignupValidation(t *testing.T) {
	svc, _ := setupService(t, nil)

	tests := []struct {
		name    string
		mutate  func(*SignupInput)
		wantErr error
	}{
		{"missing email", func(in *SignupInput) { in.Email = " " }, ErrMissingFields},
		{"missing first name", func(in *SignupInput) { in.FirstName = "" }, ErrMissingFields},
		{"missing last name", func(in *SignupInput) { in.LastName = "" }, ErrMissingFields},
		{"missing password", func(in *SignupInput) { in.Password = "" }, ErrMissingFields},
		{"short password", func(in *SignupInput) { in.Password = "1234567" }, ErrPasswordTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validSignup()
			tt.mutate(&in)
			_, err := svc.Signup(context.Background(), in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _ := setupService(t, nil)
	ctx := context.Background()

	_, err := svc.Signup(ctx, validSignup())
	require.NoError(t, err)
	_, err = svc.Signup(ctx, validSignup())
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestLogin(t *testing.T) {
	svc, _ := setupService(t, nil)
	ctx := context.Background()
	created, err := svc.Signup(ctx, validSignup())
	require.NoError(t, err)

	u, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
}

func TestLoginFailures(t *testing.T) {
	svc, users := setupService(t, nil)
	ctx := context.Background()
	_, err := svc.Signup(ctx, validSignup())
	require.NoError(t, err)

	plain := "plaintext-password"
	_, err = users.CreateUser(ctx, model.NewUser{Email: "legacy@example.com", PasswordHash: &plain})
	require.NoError(t, err)
	provider := model.AuthProviderGoogle
	_, err = users.CreateUser(ctx, model.NewUser{Email: "oauth@example.com", AuthProvider: &provider})
	require.NoError(t, err)

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "ada@example.com", "wrong horse"},
		{"unknown email", "nobody@example.com", "correct horse"},
		{"empty password", "ada@example.com", ""},
		{"plaintext stored value", "legacy@example.com", "plaintext-password"},
		{"oauth account", "oauth@example.com", "anything"},
		{"email case differs", "Ada@example.com", "correct horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestOAuthLoginProvisionsUser(t *testing.T) {
	google := &fakeGoogle{profile: &oauth.Profile{Subject: "1", Email: "grace@example.com", FirstName: "Grace", LastName: "Hopper"}}
	svc, users := setupService(t, google)
	ctx := context.Background()

	u, err := svc.OAuthLogin(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", u.Email)
	assert.Nil(t, u.PasswordHash)
	require.NotNil(t, u.AuthProvider)
	assert.Equal(t, "google", *u.AuthProvider)

	again, err := svc.OAuthLogin(ctx, "code-2")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID, "second login reuses the account")
	assert.Equal(t, []string{"code-1", "code-2"}, google.codes)

	stored, err := users.GetUserByEmail(ctx, "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Grace", stored.FirstName)
}

func TestOAuthLoginExistingPasswordUser(t *testing.T) {
	google := &fakeGoogle{profile: &oauth.Profile{Email: "ada@example.com", FirstName: "Someone"}}
	svc, _ := setupService(t, google)
	ctx := context.Background()
	created, err := svc.Signup(ctx, validSignup())
	require.NoError(t, err)

	u, err := svc.OAuthLogin(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
	assert.Equal(t, "Ada", u.FirstName, "existing profile is not overwritten")
}

func TestOAuthLoginFailuresCreateNothing(t *testing.T) {
	tests := []struct {
		name    string
		google  *fakeGoogle
		code    string
		wantErr error
	}{
		{"exchange error", &fakeGoogle{err: errors.New("invalid_grant")}, "code", nil},
		{"no email", &fakeGoogle{profile: &oauth.Profile{FirstName: "Anon"}}, "code", ErrProfileIncomplete},
		{"unverified email", &fakeGoogle{err: oauth.ErrEmailUnverified}, "code", oauth.ErrEmailUnverified},
		{"missing code", &fakeGoogle{}, "", ErrMissingAuthCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, backend := setupService(t, nil)
			users := &countingUsers{Users: backend}
			svc := NewService(users, tt.google, nil)

			_, err := svc.OAuthLogin(context.Background(), tt.code)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Zero(t, users.creates, "no user may be created on a failed callback")
		})
	}
}

type countingUsers struct {
	store.Users
	creates int
}

func (c *countingUsers) CreateUser(ctx context.Context, u model.NewUser) (*model.User, error) {
	c.creates++
	return c.Users.CreateUser(ctx, u)
}

func TestOAuthLoginNotConfigured(t *testing.T) {
	svc, _ := setupService(t, nil)
	assert.False(t, svc.GoogleEnabled())

	_, err := svc.OAuthLogin(context.Background(), "code")
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
}
