package oauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer     = "smartbin"
	DefaultStateTTL = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner issues and checks the signed state parameter. The nonce inside
// the token must match the one the browser presents in a cookie.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *StateSigner) TTL() time.Duration { return s.ttl }

// Issue returns a signed state token and the nonce it carries.
func (s *StateSigner) Issue() (state, nonce string, err error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce = hex.EncodeToString(b)

	now := s.now()
	claims := jwtlib.RegisteredClaims{
		ID:        nonce,
		Issuer:    stateIssuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(s.ttl)),
	}
	state, err = jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign state: %w", err)
	}
	return state, nonce, nil
}

// Verify checks the signature, expiry and that the token carries nonce.
func (s *StateSigner) Verify(state, nonce string) error {
	if state == "" || nonce == "" {
		return ErrInvalidState
	}
	claims := &jwtlib.RegisteredClaims{}
	parsed, err := jwtlib.ParseWithClaims(state, claims, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(stateIssuer),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(nonce)) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	return nil
}
