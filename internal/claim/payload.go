package claim

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

// PayloadPrefix starts every QR payload a bin emits.
const PayloadPrefix = "@SvenX-SmartBin:"

const (
	sessionIDLength   = 12
	sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ParsePayload extracts the session id from a scanned QR payload of the
// form "@SvenX-SmartBin:session_id=<id>".
func ParsePayload(data string) (string, error) {
	if data == "" {
		return "", ErrNoData
	}
	rest, ok := strings.CutPrefix(data, PayloadPrefix)
	if !ok {
		return "", ErrInvalidFormat
	}
	// Malformed pairs are skipped; only a missing id is an error.
	values, _ := url.ParseQuery(rest)
	sessionID := values.Get("session_id")
	if sessionID == "" {
		return "", ErrMissingSessionID
	}
	return sessionID, nil
}

// FormatPayload renders the payload a bin would display for sessionID.
func FormatPayload(sessionID string) string {
	return PayloadPrefix + url.Values{"session_id": {sessionID}}.Encode()
}

// NewSessionID returns a random 12 character alphanumeric id, the format
// bins generate.
func NewSessionID() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	for range sessionIDLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		b.WriteByte(sessionIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}
