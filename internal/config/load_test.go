package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "blog"
hosts = ["blog.example.com"]
upstream_port = 8080
service_name = "blog.service"
access_log_path = "/var/log/nginx/blog-access.log"
keep_alive_seconds = 300
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TopLevel.HibernatorPort != DefaultHibernatorPort {
		t.Errorf("expected default hibernator port %d, got %d", DefaultHibernatorPort, cfg.TopLevel.HibernatorPort)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(cfg.Sites))
	}

	site := cfg.Sites[0]
	if site.ProxyMode != "always" {
		t.Errorf("expected default proxy_mode always, got %s", site.ProxyMode)
	}
	if site.BrowserProxyMode != "when_ready" {
		t.Errorf("expected default browser_proxy_mode when_ready, got %s", site.BrowserProxyMode)
	}
	if site.ProxyTimeoutMs != DefaultProxyTimeoutMs {
		t.Errorf("expected default proxy_timeout_ms %d, got %d", DefaultProxyTimeoutMs, site.ProxyTimeoutMs)
	}
	if site.EtaPercentile != DefaultEtaPercentile {
		t.Errorf("expected default eta_percentile %d, got %d", DefaultEtaPercentile, site.EtaPercentile)
	}
	if site.EdgeEnabledConfig != "/etc/nginx/sites-enabled/blog" {
		t.Errorf("unexpected default edge_enabled_config: %s", site.EdgeEnabledConfig)
	}
}

func TestLoadKeepAliveSuffixes(t *testing.T) {
	cases := map[string]uint64{
		`keep_alive_seconds = 90`:     90,
		`keep_alive_seconds = "90s"`:  90,
		`keep_alive_seconds = "5m"`:   300,
		`keep_alive_seconds = "2h"`:   7200,
		`keep_alive_seconds = "1d"`:   86400,
		`keep_alive_seconds = "1j"`:   86400,
	}

	for snippet, want := range cases {
		path := writeConfig(t, `
[[sites]]
name = "svc"
hosts = ["svc.example.com"]
upstream_port = 8080
service_name = "svc.service"
access_log_path = "/var/log/nginx/svc-access.log"
`+snippet+"\n")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", snippet, err)
		}
		if got := uint64(cfg.Sites[0].KeepAliveSeconds); got != want {
			t.Errorf("%s: expected %d seconds, got %d", snippet, want, got)
		}
	}
}

func TestLoadRejectsMutuallyExclusiveIPLists(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "svc"
hosts = ["svc.example.com"]
upstream_port = 8080
service_name = "svc.service"
access_log_path = "/var/log/nginx/svc-access.log"
keep_alive_seconds = 60
ip_blacklist = ["10.0.0."]
ip_whitelist = ["192.168."]
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for mutually exclusive ip lists")
	}
}

func TestLoadRejectsMissingHosts(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "svc"
upstream_port = 8080
service_name = "svc.service"
access_log_path = "/var/log/nginx/svc-access.log"
keep_alive_seconds = 60
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing hosts")
	}
}

func TestLoadAliasedFields(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "svc"
hosts = ["svc.example.com"]
upstream_port = 8080
service_name = "svc.service"
access_log_path = "/var/log/nginx/svc-access.log"
keep_alive_seconds = 60
blacklist_ips = ["10.0.0."]
blacklisted_paths = ["/admin/*"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	site := cfg.Sites[0]
	if len(site.IPBlacklist) != 1 || site.IPBlacklist[0] != "10.0.0." {
		t.Errorf("expected aliased ip_blacklist to be populated, got %v", site.IPBlacklist)
	}
	if !site.PathBlacklist.MatchAny("/admin/users") {
		t.Errorf("expected aliased path_blacklist glob to match")
	}
}
