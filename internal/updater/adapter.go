package updater

import "context"

// AppAdapter is the narrow view of the host application the updater needs.
// The host constructs and owns the Updater; nothing here is global.
type AppAdapter interface {
	// CurrentVersion is the installed version string.
	CurrentVersion() string

	// AppName names the application; it is the cache namespace fallback.
	AppName() string

	// IsPackaged reports whether the app runs from an installed package.
	// Unpackaged (development) runs skip update checks.
	IsPackaged() bool

	// UpdateConfigPath locates the feed configuration file, if any.
	UpdateConfigPath() string

	// CacheBaseDir is the directory under which the per-app update cache
	// directory is created.
	CacheBaseDir() string
}

// InstallerLauncher is the per-platform capability that hands a downloaded
// installer off to the operating system. It is injected, not inherited: the
// planner, downloader, cache, and decision logic stay platform-agnostic.
type InstallerLauncher interface {
	// Launch starts the installer. adminRequired reflects the manifest's
	// isAdminRightsRequired flag.
	Launch(ctx context.Context, installerPath string, adminRequired bool) error
}
