package config

import "github.com/spf13/viper"

// siteFieldAliases maps each canonical site config key to the legacy
// spellings older config files used, so operators migrating one forward
// don't have to rewrite it.
var siteFieldAliases = map[string][]string{
	"path_blacklist": {"blacklist_paths", "blacklisted_paths", "path_denylist"},
	"ip_blacklist":   {"blacklist_ips", "blacklisted_ips", "ip_denylist"},
	"ip_whitelist":   {"whitelist_ips", "whitelisted_ips", "ip_allowlist"},
}

// normalizeSiteAliases rewrites any alias key present in the raw "sites"
// array back onto its canonical key, in place inside v, before Unmarshal
// runs. mapstructure has no notion of alternate source keys, so this has to
// happen at the map level.
func normalizeSiteAliases(v *viper.Viper) {
	raw, ok := v.Get("sites").([]interface{})
	if !ok {
		return
	}

	for _, entry := range raw {
		site, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for canonical, aliases := range siteFieldAliases {
			if _, present := site[canonical]; present {
				continue
			}
			for _, alias := range aliases {
				if val, present := site[alias]; present {
					site[canonical] = val
					break
				}
			}
		}
	}

	v.Set("sites", raw)
}

// rawPathBlacklistPatterns re-reads the (already alias-normalized) raw sites
// array to recover the original path_blacklist strings for each site, in
// order. The decode hook that turns path_blacklist into a GlobList discards
// the source strings once compiled, but the inspection API's redacted
// config endpoint needs to show operators what patterns are configured.
func rawPathBlacklistPatterns(v *viper.Viper, n int) [][]string {
	out := make([][]string, n)

	raw, ok := v.Get("sites").([]interface{})
	if !ok {
		return out
	}

	for i, entry := range raw {
		if i >= n {
			break
		}
		site, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		items, ok := site["path_blacklist"].([]interface{})
		if !ok {
			continue
		}
		patterns := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				patterns = append(patterns, s)
			}
		}
		out[i] = patterns
	}

	return out
}
