package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ValidSignatureSHA256 verifies a "sha256=<hex>" HMAC-SHA256 signature header
// over the raw request body.
func ValidSignatureSHA256(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	hexSig := strings.TrimPrefix(header, "sha256=")
	expected, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignBodySHA256 produces the "sha256=<hex>" signature for a body. Used by
// tests and by bridge clients.
func SignBodySHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEquals compares two secrets without leaking length-adjusted
// timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// TruncateTitle trims a button or quick-reply title to a channel's limit
// rather than failing the send.
func TruncateTitle(title string, limit int) string {
	runes := []rune(title)
	if len(runes) <= limit {
		return title
	}
	return string(runes[:limit])
}
