package config

import "fmt"

func validateSite(s *SiteConfig) error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(s.Hosts) == 0 {
		return fmt.Errorf("no hosts configured")
	}
	if s.AccessLogPath == "" {
		return fmt.Errorf("missing access_log_path")
	}
	if s.ServiceName == "" {
		return fmt.Errorf("missing service_name")
	}
	if s.UpstreamPort == 0 {
		return fmt.Errorf("missing upstream_port")
	}
	if len(s.IPBlacklist) > 0 && len(s.IPWhitelist) > 0 {
		return fmt.Errorf("ip_blacklist and ip_whitelist are mutually exclusive")
	}
	if s.EtaPercentile < 0 || s.EtaPercentile > 100 {
		return fmt.Errorf("eta_percentile must be between 0 and 100, got %d", s.EtaPercentile)
	}
	return nil
}
