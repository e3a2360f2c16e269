package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

// Load reads the TOML document at path, decodes it with viper, and
// validates every site. Permanent configuration errors (missing hosts,
// missing access log, mutually exclusive IP lists, duplicate site names)
// abort with a descriptive error; the caller is expected to treat this as
// fatal at process startup.
//
// Live config reload is not supported, so viper.WatchConfig is never
// armed; a changed file takes effect on the next process restart.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	normalizeSiteAliases(v)

	cfg := &Config{TopLevel: defaultTopLevel()}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		decodeSecondsDurationHook,
		decodeGlobListHook,
	)

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}

	if cfg.TopLevel.HibernatorPort == 0 {
		cfg.TopLevel.HibernatorPort = DefaultHibernatorPort
	}
	if cfg.TopLevel.StorePath == "" {
		cfg.TopLevel.StorePath = DefaultStorePath
	}

	patterns := rawPathBlacklistPatterns(v, len(cfg.Sites))

	seen := make(map[string]struct{}, len(cfg.Sites))
	for i := range cfg.Sites {
		site := &cfg.Sites[i]
		site.PathBlacklistPatterns = patterns[i]
		applySiteDefaults(site)

		if err := resolveProxyModes(site); err != nil {
			return nil, fmt.Errorf("site %q: %w", site.Name, err)
		}

		if err := validateSite(site); err != nil {
			return nil, fmt.Errorf("site %q: %w", site.Name, err)
		}

		if _, dup := seen[site.Name]; dup {
			return nil, fmt.Errorf("duplicate site name %q", site.Name)
		}
		seen[site.Name] = struct{}{}
	}

	return cfg, nil
}

func resolveProxyModes(s *SiteConfig) error {
	mode, ok := domain.ParseProxyMode(s.ProxyModeRaw)
	if !ok {
		return fmt.Errorf("invalid proxy_mode %q", s.ProxyModeRaw)
	}
	s.ProxyMode = mode

	browserMode, ok := domain.ParseProxyMode(s.BrowserProxyModeRaw)
	if !ok {
		return fmt.Errorf("invalid browser_proxy_mode %q", s.BrowserProxyModeRaw)
	}
	s.BrowserProxyMode = browserMode

	return nil
}
