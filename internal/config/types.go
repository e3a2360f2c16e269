// Package config loads and validates the hibernator's TOML configuration
// document: the top-level listener port and the per-site settings that
// drive the controller, logtail and dispatcher packages.
package config

import (
	"fmt"
	"strings"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

const (
	DefaultHibernatorPort       = 7878
	DefaultProxyTimeoutMs       = 28000
	DefaultProxyCheckIntervalMs = 500
	DefaultStartTimeoutMs       = 5 * 60 * 1000
	DefaultStartCheckIntervalMs = 100
	DefaultEtaPercentile        = 95
)

// SiteConfig is one entry in the TOML document's `sites` array. Several
// fields also accept historical alias spellings (see aliases.go) so old
// config files keep working.
type SiteConfig struct {
	Name                 string          `mapstructure:"name"`
	Hosts                []string        `mapstructure:"hosts"`
	UpstreamPort         uint16          `mapstructure:"upstream_port"`
	ServiceName          string          `mapstructure:"service_name"`
	AccessLogPath        string          `mapstructure:"access_log_path"`
	AccessLogFilter      string          `mapstructure:"access_log_filter"`
	KeepAliveSeconds     SecondsDuration `mapstructure:"keep_alive_seconds"`
	ProxyModeRaw         string          `mapstructure:"proxy_mode"`
	BrowserProxyModeRaw  string          `mapstructure:"browser_proxy_mode"`
	ProxyTimeoutMs       uint64          `mapstructure:"proxy_timeout_ms"`
	ProxyCheckIntervalMs uint64          `mapstructure:"proxy_check_interval_ms"`
	StartTimeoutMs       uint64          `mapstructure:"start_timeout_ms"`
	StartCheckIntervalMs uint64          `mapstructure:"start_check_interval_ms"`
	EtaPercentile        int             `mapstructure:"eta_percentile"`
	PathBlacklist        GlobList        `mapstructure:"path_blacklist"`
	IPBlacklist          []string        `mapstructure:"ip_blacklist"`
	IPWhitelist          []string        `mapstructure:"ip_whitelist"`

	EdgeAvailableConfig   string `mapstructure:"edge_available_config"`
	EdgeEnabledConfig     string `mapstructure:"edge_enabled_config"`
	EdgeHibernatingConfig string `mapstructure:"edge_hibernating_config"`

	// Resolved during Load/validate; not part of the TOML surface.
	ProxyMode             domain.ProxyMode `mapstructure:"-"`
	BrowserProxyMode      domain.ProxyMode `mapstructure:"-"`
	PathBlacklistPatterns []string         `mapstructure:"-"`
}

// Redacted returns the subset of site config safe to expose over the
// inspection API's /services/:name/config endpoint: the supervisor unit
// name and the absolute edge/log paths are operational details, not
// something an operator querying site shape over HTTP needs to see.
func (s *SiteConfig) Redacted() RedactedSiteConfig {
	return RedactedSiteConfig{
		Name:                 s.Name,
		Hosts:                append([]string(nil), s.Hosts...),
		UpstreamPort:         s.UpstreamPort,
		KeepAliveSeconds:     uint64(s.KeepAliveSeconds),
		ProxyMode:            s.ProxyMode,
		BrowserProxyMode:     s.BrowserProxyMode,
		ProxyTimeoutMs:       s.ProxyTimeoutMs,
		ProxyCheckIntervalMs: s.ProxyCheckIntervalMs,
		StartTimeoutMs:       s.StartTimeoutMs,
		StartCheckIntervalMs: s.StartCheckIntervalMs,
		EtaPercentile:        s.EtaPercentile,
		PathBlacklist:        append([]string(nil), s.PathBlacklistPatterns...),
		HasIPBlacklist:       len(s.IPBlacklist) > 0,
		HasIPWhitelist:       len(s.IPWhitelist) > 0,
	}
}

// RedactedSiteConfig is the JSON shape returned by the inspection API's
// config endpoint: every field meaningful to an operator inspecting
// routing/proxy behaviour, minus the supervisor unit name and absolute
// filesystem paths, which are host-internal plumbing.
type RedactedSiteConfig struct {
	Name                 string           `json:"name"`
	Hosts                []string         `json:"hosts"`
	UpstreamPort         uint16           `json:"upstream_port"`
	KeepAliveSeconds     uint64           `json:"keep_alive_seconds"`
	ProxyMode            domain.ProxyMode `json:"proxy_mode"`
	BrowserProxyMode     domain.ProxyMode `json:"browser_proxy_mode"`
	ProxyTimeoutMs       uint64           `json:"proxy_timeout_ms"`
	ProxyCheckIntervalMs uint64           `json:"proxy_check_interval_ms"`
	StartTimeoutMs       uint64           `json:"start_timeout_ms"`
	StartCheckIntervalMs uint64           `json:"start_check_interval_ms"`
	EtaPercentile        int              `json:"eta_percentile"`
	PathBlacklist        []string         `json:"path_blacklist,omitempty"`
	HasIPBlacklist       bool             `json:"has_ip_blacklist"`
	HasIPWhitelist       bool             `json:"has_ip_whitelist"`
}

// HostSet returns the site's hosts lowercased, for case-insensitive lookup.
func (s *SiteConfig) HostSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Hosts))
	for _, h := range s.Hosts {
		set[strings.ToLower(h)] = struct{}{}
	}
	return set
}

// TopLevelConfig holds the hibernator-wide settings.
type TopLevelConfig struct {
	HibernatorPort uint16 `mapstructure:"hibernator_port"`
	StorePath      string `mapstructure:"store_path"`
	WaitPagePath   string `mapstructure:"wait_page_path"`
}

const (
	DefaultStorePath = "/var/lib/hibernator/hibernator.db"
)

// Config is the fully decoded and validated TOML document.
type Config struct {
	TopLevel TopLevelConfig `mapstructure:",squash"`
	Sites    []SiteConfig   `mapstructure:"sites"`
}

func defaultTopLevel() TopLevelConfig {
	return TopLevelConfig{HibernatorPort: DefaultHibernatorPort}
}

func applySiteDefaults(s *SiteConfig) {
	if s.ProxyModeRaw == "" {
		s.ProxyModeRaw = "always"
	}
	if s.BrowserProxyModeRaw == "" {
		s.BrowserProxyModeRaw = "when_ready"
	}
	if s.ProxyTimeoutMs == 0 {
		s.ProxyTimeoutMs = DefaultProxyTimeoutMs
	}
	if s.ProxyCheckIntervalMs == 0 {
		s.ProxyCheckIntervalMs = DefaultProxyCheckIntervalMs
	}
	if s.StartTimeoutMs == 0 {
		s.StartTimeoutMs = DefaultStartTimeoutMs
	}
	if s.StartCheckIntervalMs == 0 {
		s.StartCheckIntervalMs = DefaultStartCheckIntervalMs
	}
	if s.EtaPercentile == 0 {
		s.EtaPercentile = DefaultEtaPercentile
	}
	if s.EdgeAvailableConfig == "" {
		s.EdgeAvailableConfig = fmt.Sprintf("/etc/nginx/sites-available/%s", s.Name)
	}
	if s.EdgeEnabledConfig == "" {
		s.EdgeEnabledConfig = fmt.Sprintf("/etc/nginx/sites-enabled/%s", s.Name)
	}
	if s.EdgeHibernatingConfig == "" {
		s.EdgeHibernatingConfig = "/etc/nginx/sites-available/nginx-hibernator"
	}
}
