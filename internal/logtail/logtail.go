// Package logtail extracts the most recent real client request from an
// nginx access log, applying a per-site filter chain that skips synthetic
// or irrelevant lines before deciding whether a site is still in active
// use.
package logtail

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/config"
)

// timestampLayout matches nginx's default combined log format date,
// e.g. "10/Oct/2023:13:55:36 -0700".
const timestampLayout = "02/Jan/2006:15:04:05 -0700"

// Filters bundles the per-site matchers applied, in order, to each
// candidate line: a substring filter, then IP blacklist/whitelist prefix
// matching, then a path blacklist glob matched against the quoted request
// target.
type Filters struct {
	Substring     string
	IPBlacklist   []string
	IPWhitelist   []string
	PathBlacklist config.GlobList
}

// LastRequest scans accessLogPath newest-line-first and returns the
// timestamp of the first line that survives every filter. found is false
// if the file has no matching line (including an empty file); a missing or
// unreadable file is reported as an error.
func LastRequest(accessLogPath string, f Filters) (at time.Time, found bool, err error) {
	data, err := os.ReadFile(accessLogPath)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading access log %s: %w", accessLogPath, err)
	}

	lines := strings.Split(string(data), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if line == "" {
			continue
		}
		if !matches(line, f) {
			continue
		}

		if parsed, ok := extractTimestamp(line); ok {
			return parsed, true, nil
		}
	}

	return time.Time{}, false, nil
}

func matches(line string, f Filters) bool {
	if f.Substring != "" && !strings.Contains(line, f.Substring) {
		return false
	}

	for _, prefix := range f.IPBlacklist {
		if strings.HasPrefix(line, prefix) {
			return false
		}
	}

	if len(f.IPWhitelist) > 0 {
		allowed := false
		for _, prefix := range f.IPWhitelist {
			if strings.HasPrefix(line, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.PathBlacklist) > 0 {
		path, ok := extractRequestPath(line)
		if ok && f.PathBlacklist.MatchAny(path) {
			return false
		}
	}

	return true
}

// extractRequestPath pulls the second whitespace-separated field out of the
// first double-quoted section of the line, i.e. the path out of
// `"GET /foo?x=1 HTTP/1.1"`.
func extractRequestPath(line string) (string, bool) {
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return "", false
	}
	rest := line[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	requestLine := rest[:end]

	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}

// extractTimestamp walks the line's [...] bracketed tokens in order and
// returns the first one that parses as a log date, i.e. the date out of
// `10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 ...`.
// Bracket groups that aren't dates (a bracketed user agent, say) are
// skipped rather than failing the line.
func extractTimestamp(line string) (time.Time, bool) {
	rest := line
	for {
		start := strings.IndexByte(rest, '[')
		if start < 0 {
			return time.Time{}, false
		}
		rest = rest[start+1:]
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return time.Time{}, false
		}
		candidate := rest[:end]
		rest = rest[end+1:]

		if parsed, err := time.Parse(timestampLayout, candidate); err == nil {
			return parsed, true
		}
	}
}
