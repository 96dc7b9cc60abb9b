package env

import (
	"os"
	"strings"
)

// Prefix namespaces every variable the stockledger binaries read.
const Prefix = "STOCKLEDGER"

// Lookup reads STOCKLEDGER_<key> and falls back to the bare key, so
// LOG_FORMAT keeps working next to STOCKLEDGER_LOG_FORMAT. Values are
// trimmed and blank counts as unset.
func Lookup(key string) (string, bool) {
	key = strings.TrimPrefix(key, Prefix+"_")
	for _, name := range []string{Prefix + "_" + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val, true
		}
	}
	return "", false
}

// Get returns Lookup(key) or fallback.
func Get(key, fallback string) string {
	if val, ok := Lookup(key); ok {
		return val
	}
	return fallback
}
