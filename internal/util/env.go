// Package util provides small environment parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable. Accepts true/1/yes/on and
// false/0/no/off, case-insensitive. Unset or unrecognized values return the
// default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return defaultValue
	}
	switch raw {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
}

// ParseIntEnv reads an integer environment variable. Unset or unparseable
// values return the default.
func ParseIntEnv(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ParseIntEnv: unparseable integer value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return n
}
