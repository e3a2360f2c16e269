// Package waitpage loads and renders the static "please wait" HTML page
// served while a site is Down or Starting and policy forbids transparent
// proxying. The page file is supplied by the operator; this package only
// owns loading it and substituting its placeholder tokens.
package waitpage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultHTML is served when no wait_page_path is configured, so the
// hibernator still answers something sensible out of the box.
const defaultHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Starting up&hellip;</title>
<meta http-equiv="refresh" content="5">
</head>
<body>
<p>The site you requested is starting up. This page will refresh automatically.</p>
<p data-done-ms="DONE_MS" data-duration-ms="DURATION_MS" data-keep-alive="KEEP_ALIVE"></p>
</body>
</html>
`

// Template holds the raw wait-page HTML with its substitution tokens still
// in place.
type Template struct {
	raw string
}

// Load reads the wait-page HTML from path, or falls back to the built-in
// default when path is empty.
func Load(path string) (*Template, error) {
	if path == "" {
		return &Template{raw: defaultHTML}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wait page %s: %w", path, err)
	}
	return &Template{raw: string(data)}, nil
}

// Render substitutes the DONE_MS/DURATION_MS/KEEP_ALIVE tokens literally
// and returns the rendered page body.
func (t *Template) Render(doneMs, durationMs int64, keepAliveSeconds uint64) string {
	replacer := strings.NewReplacer(
		"DONE_MS", strconv.FormatInt(doneMs, 10),
		"DURATION_MS", strconv.FormatInt(durationMs, 10),
		"KEEP_ALIVE", strconv.FormatUint(keepAliveSeconds, 10),
	)
	return replacer.Replace(t.raw)
}
