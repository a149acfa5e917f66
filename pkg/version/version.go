package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Version information - using semantic versioning
const (
	Major      = 0
	Minor      = 4
	Patch      = 0
	PreRelease = "" // e.g., "alpha", "beta", "rc1"
)

// Set at build time with -ldflags "-X .../pkg/version.GitCommit=...".
var (
	GitCommit = ""
	BuildDate = ""
)

const ProjectName = "Agent Network Indexer"

// Version returns the semantic version string
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		v += "-" + PreRelease
	}
	return v
}

// BuildInfo is served at /health.
type BuildInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	PreRelease string `json:"pre_release,omitempty"`
	GitCommit  string `json:"git_commit,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// GetBuildInfo returns complete build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Name:       ProjectName,
		Version:    Version(),
		PreRelease: PreRelease,
		GitCommit:  shortCommit(),
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func shortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// GetVersionString returns "0.4.0" or "0.4.0 (abcdef1)".
func GetVersionString() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s (%s)", Version(), c)
	}
	return Version()
}

// GetBanner returns a formatted banner for application startup
func GetBanner() string {
	info := GetBuildInfo()
	lines := []string{
		fmt.Sprintf("%s v%s", info.Name, info.Version),
		fmt.Sprintf("Go Version: %s  Platform: %s", info.GoVersion, info.Platform),
	}
	if info.BuildDate != "" {
		lines = append(lines, "Build Date: "+info.BuildDate)
	}
	if info.GitCommit != "" {
		lines = append(lines, "Git Commit: "+info.GitCommit)
	}

	width := 0
	for _, l := range lines {
		width = max(width, len(l))
	}
	var b strings.Builder
	b.WriteString("┌" + strings.Repeat("─", width+2) + "┐\n")
	for i, l := range lines {
		fmt.Fprintf(&b, "│ %-*s │\n", width, l)
		if i == 0 {
			b.WriteString("├" + strings.Repeat("─", width+2) + "┤\n")
		}
	}
	b.WriteString("└" + strings.Repeat("─", width+2) + "┘")
	return b.String()
}
