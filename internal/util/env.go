// Package util provides small environment parsing helpers shared across
// components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

var boolWords = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
	"false": false, "0": false, "no": false, "off": false,
}

// ParseBoolEnv reads a boolean environment variable. Accepts true/1/yes/on
// and false/0/no/off, case-insensitive. Unset or unrecognized values fall
// back to defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return defaultValue
	}
	v, ok := boolWords[raw]
	if !ok {
		slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}
