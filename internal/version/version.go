package version

import (
	"fmt"
	"github.com/nginx-hibernator/hibernator/theme"
	"log"
	"strings"
)

var (
	Name        = "hibernator"
	Authors     = "nginx-hibernator contributors"
	Description = "Activity-aware hibernation proxy for nginx-fronted sites"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/nginx-hibernator/hibernator"
	GithubHomeUri   = "https://github.com/nginx-hibernator/hibernator"
	GithubLatestUri = "https://github.com/nginx-hibernator/hibernator/releases/latest"
)

// PrintVersionInfo writes the startup banner.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)
	padLatest := fmt.Sprintf("%*s", 1-len(Version), "")
	padBuffer := fmt.Sprintf("%*s", 2, "")

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔────────────────────────────────────────────────────────╗
│  █ █ █ █▄▄ ██▀ █▀▄ █▄ █ ▄▀▄ ▀█▀ ▄▀▄ █▀▄                 │
│  █▀█ █ █▄█ █▄▄ █▀▄ █ ▀█ █▀█  █  ▀▄▀ █▀▄                 │
│  sleeps idle sites, wakes them on the first request     │` + "\n"))

	b.WriteString(theme.ColourSplash("│ "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(padLatest)
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(padBuffer)
	b.WriteString(theme.ColourSplash(" │\n"))
	b.WriteString(theme.ColourSplash("╚────────────────────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
