package config

import (
	"fmt"
	"reflect"

	"github.com/gobwas/glob"
)

// GlobList is a compiled set of POSIX-style glob patterns (literal '/'
// separator, '\' escape) used for path_blacklist matching.
type GlobList []glob.Glob

// MatchAny reports whether any pattern in the list matches s.
func (g GlobList) MatchAny(s string) bool {
	for _, pattern := range g {
		if pattern.Match(s) {
			return true
		}
	}
	return false
}

func compileGlob(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern, '/')
}

// CompileGlobList compiles patterns into a GlobList directly, for callers
// that build one outside of TOML decoding (tests, or programmatic config).
func CompileGlobList(patterns []string) (GlobList, error) {
	list := make(GlobList, 0, len(patterns))
	for _, p := range patterns {
		compiled, err := compileGlob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", p, err)
		}
		list = append(list, compiled)
	}
	return list, nil
}

func decodeGlobListHook(fromType, toType reflect.Type, data interface{}) (interface{}, error) {
	if toType != reflect.TypeOf(GlobList(nil)) {
		return data, nil
	}

	raw, ok := data.([]interface{})
	if !ok {
		return data, nil
	}

	list := make(GlobList, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("path_blacklist entries must be strings, got %T", item)
		}
		compiled, err := compileGlob(s)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", s, err)
		}
		list = append(list, compiled)
	}
	return list, nil
}
