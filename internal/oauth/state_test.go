package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	s := NewStateSigner("secret", 0)
	assert.Equal(t, DefaultStateTTL, s.TTL())

	state, nonce, err := s.Issue()
	require.NoError(t, err)
	assert.Len(t, nonce, 32)
	assert.NoError(t, s.Verify(state, nonce))
}

func TestStateRejects(t *testing.T) {
	s := NewStateSigner("secret", time.Minute)
	state, nonce, err := s.Issue()
	require.NoError(t, err)

	other := NewStateSigner("other-secret", time.Minute)
	otherState, otherNonce, err := other.Issue()
	require.NoError(t, err)

	tests := []struct {
		name  string
		state string
		nonce string
	}{
		{"empty state", "", nonce},
		{"empty nonce", state, ""},
		{"nonce mismatch", state, otherNonce},
		{"wrong signature", otherState, otherNonce},
		{"garbage", "not-a-jwt", nonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Verify(tt.state, tt.nonce), ErrInvalidState)
		})
	}
}

func TestStateExpired(t *testing.T) {
	s := NewStateSigner("secret", time.Minute)
	state, nonce, err := s.Issue()
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify(state, nonce), ErrInvalidState)
}
