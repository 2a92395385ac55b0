package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"valid", "@SvenX-SmartBin:session_id=abc123", "abc123", nil},
		{"extra params", "@SvenX-SmartBin:bin=1&session_id=abc123", "abc123", nil},
		{"escaped", "@SvenX-SmartBin:session_id=a%2Bb", "a+b", nil},
		{"first value wins", "@SvenX-SmartBin:session_id=one&session_id=two", "one", nil},
		{"empty", "", "", ErrNoData},
		{"wrong prefix", "https://example.com/?session_id=abc", "", ErrInvalidFormat},
		{"prefix is case sensitive", "@svenx-smartbin:session_id=abc", "", ErrInvalidFormat},
		{"no session", "@SvenX-SmartBin:bin=1", "", ErrMissingSessionID},
		{"empty session", "@SvenX-SmartBin:session_id=", "", ErrMissingSessionID},
		{"prefix only", "@SvenX-SmartBin:", "", ErrMissingSessionID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPayload(t *testing.T) {
	assert.Equal(t, "@SvenX-SmartBin:session_id=abc123", FormatPayload("abc123"))

	got, err := ParsePayload(FormatPayload("a b&c"))
	require.NoError(t, err)
	assert.Equal(t, "a b&c", got)
}

func TestNewSessionID(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		id, err := NewSessionID()
		require.NoError(t, err)
		assert.Len(t, id, 12)
		assert.Regexp(t, `^[A-Za-z0-9]{12}$`, id)
		seen[id] = true
	}
	assert.Len(t, seen, 50)
}
