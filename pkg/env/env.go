package env

import (
	"os"
	"strings"
)

// Get returns the named variable's value, falling back when it is unset or
// blank.
func Get(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return val
	}
	return fallback
}
