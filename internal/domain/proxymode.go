package domain

import "strings"

// ProxyMode controls whether the dispatcher proxies a request transparently
// or serves the wait page while the site is not up.
type ProxyMode string

const (
	ProxyAlways    ProxyMode = "always"
	ProxyWhenReady ProxyMode = "when_ready"
	ProxyNever     ProxyMode = "never"
)

// ParseProxyMode accepts the case-insensitive spellings the config file
// allows: always|when_ready|when-ready|if-ready|ready|never.
func ParseProxyMode(s string) (ProxyMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always":
		return ProxyAlways, true
	case "when_ready", "when-ready", "if-ready", "ready":
		return ProxyWhenReady, true
	case "never":
		return ProxyNever, true
	default:
		return "", false
	}
}

// ShouldProxy evaluates the mode against the site's current state.
func (m ProxyMode) ShouldProxy(isUp bool) bool {
	switch m {
	case ProxyAlways:
		return true
	case ProxyWhenReady:
		return isUp
	case ProxyNever:
		return false
	default:
		return false
	}
}
