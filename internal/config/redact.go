package config

import "strings"

// secretKeyMarkers names the config keys factories commonly carry
// credentials or connection strings under, grounded on common.MaskSecret's
// original EVE-service-wide logging convention.
var secretKeyMarkers = []string{
	"password", "secret", "token", "key", "url", "dsn", "credential",
}

// MaskSecret shows only the first and last four characters of a secret,
// collapsing anything too short to mask safely.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// looksSecret reports whether key is conventionally a credential or
// connection-string field, so RedactedSummary knows to mask it.
func looksSecret(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RedactedSummary returns a shallow copy of tree with every
// conventionally-secret string value masked, safe to attach to a log
// line describing the component being built.
func RedactedSummary(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		if s, ok := v.(string); ok && looksSecret(k) {
			out[k] = MaskSecret(s)
			continue
		}
		out[k] = v
	}
	return out
}
