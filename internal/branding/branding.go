// Package branding provides compile-time identity values for the CLI.
//
// Forkers embedding this client under their own product name edit
// branding.yaml in this package; Go's //go:embed bakes it into the binary.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName        string `yaml:"cli_name"`
	DisplayName    string `yaml:"display_name"`
	Description    string `yaml:"description"`
	HomeDir        string `yaml:"home_dir"`
	EnvPrefix      string `yaml:"env_prefix"`
	GoModule       string `yaml:"go_module"`
	GitHubRepo     string `yaml:"github_repo"`
	DefaultFeedURL string `yaml:"default_feed_url"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is missing or empty.
		defaults = brand{
			CLIName:     "slimupdate",
			DisplayName: "SlimUpdate",
			Description: "Differential auto-update client for desktop applications",
			HomeDir:     ".slimupdate",
			EnvPrefix:   "SLIMUPDATE",
			GoModule:    "github.com/krisdages/electron-builder-lib-slim",
			GitHubRepo:  "krisdages/electron-builder-lib-slim",
		}
		// Overlay with embedded YAML values.
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "slimupdate").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".slimupdate").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "SLIMUPDATE").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GoModule returns the Go module path. Used by rebranding tooling, not
// consumed at runtime.
func GoModule() string { load(); return defaults.GoModule }

// GitHubRepo returns the "owner/repo" string.
func GitHubRepo() string { load(); return defaults.GitHubRepo }

// DefaultFeedURL returns the built-in release feed base URL, if the fork
// ships one. Empty means the feed must come from config or flags.
func DefaultFeedURL() string { load(); return defaults.DefaultFeedURL }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("HOME")
// becomes "SLIMUPDATE_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
