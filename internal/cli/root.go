package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/krisdages/electron-builder-lib-slim/internal/branding"
	"github.com/krisdages/electron-builder-lib-slim/internal/config"
	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
	"github.com/krisdages/electron-builder-lib-slim/internal/platform"
	"github.com/krisdages/electron-builder-lib-slim/internal/provider"
	"github.com/krisdages/electron-builder-lib-slim/internal/updater"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	flagFeed           string
	flagChannel        string
	flagAppName        string
	flagAppVersion     string
	flagCacheDir       string
	flagOldInstaller   string
	flagAllowDowngrade bool
	flagRawVersions    bool
	flagSingleRange    bool
	flagMaxRanges      int
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.CLIName() + ` checks a release feed for a newer version of an installed
application, downloads only the changed byte ranges of the new installer
using block maps and HTTP range requests, and hands the verified installer
to the platform.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagFeed, "feed", "", "Release feed base URL (default from config feed.url)")
	pf.StringVar(&flagChannel, "channel", "", "Release channel (reads <channel>.yml instead of latest.yml)")
	pf.StringVar(&flagAppName, "app-name", "", "Application name for cache namespacing")
	pf.StringVar(&flagAppVersion, "current-version", "", "Currently installed version")
	pf.StringVar(&flagCacheDir, "cache-dir", "", "Base directory for the download cache")
	pf.StringVar(&flagOldInstaller, "old", "", "Path to the cached installer of the current version (enables differential download)")
	pf.BoolVar(&flagAllowDowngrade, "allow-downgrade", false, "Permit installing an older remote version")
	pf.BoolVar(&flagRawVersions, "raw-versions", false, "Compare versions as raw strings instead of semver")
	pf.BoolVar(&flagSingleRange, "single-range", false, "Issue range requests one at a time (for hosts that mishandle concurrent ranges)")
	pf.IntVar(&flagMaxRanges, "max-range-requests", 0, "Cap on HTTP range requests per differential download")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}

// setting returns the flag value, falling back to the config key.
func setting(flag, key string) string {
	if flag != "" {
		return flag
	}
	return config.Get(key)
}

// hostApp adapts CLI flags and config into the updater's AppAdapter.
type hostApp struct {
	version  string
	name     string
	cacheDir string
}

func (h *hostApp) CurrentVersion() string   { return h.version }
func (h *hostApp) AppName() string          { return h.name }
func (h *hostApp) IsPackaged() bool         { return true }
func (h *hostApp) UpdateConfigPath() string { return config.FilePath() }
func (h *hostApp) CacheBaseDir() string     { return h.cacheDir }

// newUpdater assembles an Updater from flags and config.
func newUpdater() (*updater.Updater, error) {
	feed := setting(flagFeed, config.KeyFeedURL)
	if feed == "" {
		feed = branding.DefaultFeedURL()
	}
	if feed == "" {
		return nil, errcode.New(errcode.InvalidConfiguration, "no feed URL configured (use --feed or set feed.url)")
	}
	channel := setting(flagChannel, config.KeyChannel)

	provOpts := []provider.GenericOption{}
	if channel != "" {
		provOpts = append(provOpts, provider.WithChannel(channel))
	}
	if flagSingleRange {
		provOpts = append(provOpts, provider.WithoutMultipleRangeRequests())
	}
	prov, err := provider.NewGeneric(feed, provOpts...)
	if err != nil {
		return nil, err
	}

	appName := setting(flagAppName, config.KeyAppName)
	if appName == "" {
		appName = branding.CLIName()
	}
	appVersion := setting(flagAppVersion, config.KeyAppVersion)
	if appVersion == "" {
		return nil, errcode.New(errcode.InvalidConfiguration, "no current version configured (use --current-version or set app.version)")
	}
	cacheDir := setting(flagCacheDir, config.KeyCacheDir)
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = filepath.Join(".", "cache")
		}
		cacheDir = base
	}

	opts := []updater.Option{
		updater.WithLauncher(&platform.Launcher{}),
	}
	if flagAllowDowngrade || config.GetBool(config.KeyAllowDowngrade) {
		opts = append(opts, updater.WithAllowDowngrade())
	}
	if channel != "" {
		opts = append(opts, updater.WithChannelOverride())
	}
	if flagRawVersions {
		opts = append(opts, updater.WithDisabledVersionComparison())
	}
	if flagOldInstaller != "" {
		opts = append(opts, updater.WithOldInstaller(flagOldInstaller))
	}
	if n := flagMaxRanges; n > 0 {
		opts = append(opts, updater.WithMaxRangeRequests(n))
	} else if n := config.GetInt(config.KeyMaxRanges); n > 0 {
		opts = append(opts, updater.WithMaxRangeRequests(n))
	}

	adapter := &hostApp{version: appVersion, name: appName, cacheDir: cacheDir}
	return updater.New(adapter, prov, opts...), nil
}
