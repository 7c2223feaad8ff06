package entitlement

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// License key format: POS-XXXX-XXXX-XXXX-XXXX. The alphabet drops the
// characters operators misread over the phone (0/O, 1/I/L).
const (
	LicenseKeyPrefix = "POS"
	keyGroupCount    = 4
	keyGroupLength   = 4
	keyAlphabet      = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// GenerateLicenseKey returns a new high-entropy license key. Four groups
// of four characters over a 31-character alphabet give ~79 bits of
// entropy, which is plenty for an online-checked key.
func GenerateLicenseKey() (string, error) {
	raw := make([]byte, keyGroupCount*keyGroupLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("license key entropy: %w", err)
	}

	var b strings.Builder
	b.WriteString(LicenseKeyPrefix)
	for i, c := range raw {
		if i%keyGroupLength == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// ValidateKeyFormat checks the shape of a license key before any lookup.
// Keys are accepted with or without dashes and are case-insensitive.
func ValidateKeyFormat(key string) error {
	clean := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", ""))
	if !strings.HasPrefix(clean, LicenseKeyPrefix) {
		return validation("validate_key", "license key must start with %q", LicenseKeyPrefix)
	}
	body := clean[len(LicenseKeyPrefix):]
	if len(body) != keyGroupCount*keyGroupLength {
		return validation("validate_key", "license key must be %d characters after the %s prefix",
			keyGroupCount*keyGroupLength, LicenseKeyPrefix)
	}
	for _, c := range body {
		if !strings.ContainsRune(keyAlphabet, c) {
			return validation("validate_key", "license key contains invalid character %q", c)
		}
	}
	return nil
}

// NormalizeKey canonicalizes a license key to POS-XXXX-XXXX-XXXX-XXXX.
// Callers must run ValidateKeyFormat first.
func NormalizeKey(key string) string {
	clean := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", ""))
	body := clean[len(LicenseKeyPrefix):]
	groups := make([]string, 0, keyGroupCount+1)
	groups = append(groups, LicenseKeyPrefix)
	for i := 0; i < len(body); i += keyGroupLength {
		groups = append(groups, body[i:i+keyGroupLength])
	}
	return strings.Join(groups, "-")
}
