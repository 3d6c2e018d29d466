// Package redact keeps backend credentials out of logs and CLI output.
package redact

import (
	"net/url"
	"strings"
)

const mask = "[REDACTED]"

// String replaces each secret found in s. Secrets shorter than 4 bytes are
// ignored so that short common substrings survive.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, mask)
	}
	return s
}

// Secret renders a credential for display, keeping only its last 4 bytes
// when it is long enough to stay unguessable.
func Secret(v string) string {
	switch {
	case v == "":
		return ""
	case len(v) < 12:
		return mask
	}
	return mask + v[len(v)-4:]
}

// URL drops user info and masks sensitive query parameters.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return mask
	}
	if u.User != nil {
		u.User = url.User(mask)
	}
	q := u.Query()
	changed := false
	for k := range q {
		if isSensitiveKey(k) {
			q.Set(k, mask)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"token", "secret", "key", "password", "auth", "credential"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
