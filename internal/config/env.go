package config

import (
	"os"
	"strings"
	"unicode"
)

func (c *Config) applyEnv() {
	c.Database.Path = stringOr(EnvDB, c.Database.Path)
	c.Log.Level = stringOr(EnvLogLevel, c.Log.Level)
	c.Sync.SealKey = stringOr(EnvSealKey, c.Sync.SealKey)

	for i := range c.Pinning.Backends {
		b := &c.Pinning.Backends[i]
		prefix := EnvPrefix(b.Name)
		b.Token = stringOr(prefix+"_TOKEN", b.Token)
		b.ProjectID = stringOr(prefix+"_PROJECT_ID", b.ProjectID)
		b.ProjectSecret = stringOr(prefix+"_PROJECT_SECRET", b.ProjectSecret)
	}
}

// EnvPrefix maps a backend name to its environment variable prefix:
// "web3-storage" becomes "WEB3_STORAGE".
func EnvPrefix(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
}

// stringOr returns the named environment variable, or def when it is unset
// or empty.
func stringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
