// Package env reads process environment variables with typed defaults, for
// the handful of settings an operator can override without editing the TOML
// config (config path, logging verbosity, log rotation, theme, profiling, and
// the port --status connects to).
package env

import (
	"os"
	"strconv"
)

// GetEnvOrDefault returns the named environment variable, or def if unset.
func GetEnvOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

// GetEnvBoolOrDefault returns the named environment variable parsed as a
// bool, or def if unset or unparseable.
func GetEnvBoolOrDefault(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvIntOrDefault returns the named environment variable parsed as an
// int, or def if unset or unparseable.
func GetEnvIntOrDefault(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
