package dispatcher

import (
	"strings"

	"github.com/nginx-hibernator/hibernator/internal/config"
)

// shouldBeProcessed applies the site's gating rules in order: path
// blacklist, then IP blacklist, then IP whitelist. A rejected request is
// answered but never wakes the site.
func shouldBeProcessed(cfg *config.SiteConfig, path string, realIP *string) bool {
	if len(cfg.PathBlacklist) > 0 && cfg.PathBlacklist.MatchAny(path) {
		return false
	}

	ip := ""
	if realIP != nil {
		ip = *realIP
	}

	if len(cfg.IPBlacklist) > 0 {
		for _, prefix := range cfg.IPBlacklist {
			if strings.HasPrefix(ip, prefix) {
				return false
			}
		}
	}

	if len(cfg.IPWhitelist) > 0 {
		for _, prefix := range cfg.IPWhitelist {
			if strings.HasPrefix(ip, prefix) {
				return true
			}
		}
		return false
	}

	return true
}
