package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys whose values must never reach the log stream. Wallet-auth and session
// tokens grant order submission on the holder's behalf.
var redactedKeys = map[string]struct{}{
	"authorization": {},
	"bearer":        {},
	"token":         {},
	"session_token": {},
	"wallet_token":  {},
	"api_key":       {},
	"secret":        {},
}

// IsSensitive reports whether the provided key carries credential material.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactedKeys[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values.
// Empty values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value when the key
// carries credential material. The original key casing is preserved.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
