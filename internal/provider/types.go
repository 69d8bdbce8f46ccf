package provider

import (
	"context"
	"net/url"

	"go.yaml.in/yaml/v3"
)

// UpdateInfo is one channel manifest entry describing the latest release.
type UpdateInfo struct {
	Version              string     `yaml:"version"`
	Files                []FileInfo `yaml:"files"`
	ReleaseDate          string     `yaml:"releaseDate,omitempty"`
	ReleaseNotes         string     `yaml:"releaseNotes,omitempty"`
	MinimumSystemVersion string     `yaml:"minimumSystemVersion,omitempty"`

	// StagingPercentage gates gradual rollout. Nil disables the gate. A
	// malformed value in the manifest also disables it (fail open).
	StagingPercentage *StagingPercentage `yaml:"stagingPercentage,omitempty"`

	// CacheDirName namespaces the download cache; falls back to the app name.
	CacheDirName string `yaml:"cacheDirName,omitempty"`

	// IsAdminRightsRequired is recorded in the cache sidecar so the installer
	// hand-off can request elevation.
	IsAdminRightsRequired bool `yaml:"isAdminRightsRequired,omitempty"`
}

// FileInfo is one file descriptor from the manifest. URL may be relative to
// the channel base URL.
type FileInfo struct {
	URL    string `yaml:"url"`
	SHA512 string `yaml:"sha512"`
	Size   int64  `yaml:"size"`
}

// ResolvedFileInfo is a FileInfo with its URL resolved to an absolute URL.
type ResolvedFileInfo struct {
	URL    *url.URL
	SHA512 string
	Size   int64
}

// StagingPercentage is an int that tolerates malformed manifest values: a
// non-numeric stagingPercentage decodes to an unset value instead of failing
// the whole manifest, so rollout gating fails open.
type StagingPercentage struct {
	Value int
	Valid bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StagingPercentage) UnmarshalYAML(node *yaml.Node) error {
	var v int
	if err := node.Decode(&v); err != nil {
		s.Valid = false
		return nil
	}
	s.Value = v
	s.Valid = true
	return nil
}

// Percentage returns the gate value for staging.Allowed: nil when the field
// is absent or malformed.
func (u *UpdateInfo) Percentage() *int {
	if u.StagingPercentage == nil || !u.StagingPercentage.Valid {
		return nil
	}
	return &u.StagingPercentage.Value
}

// Provider resolves update metadata from a remote source.
type Provider interface {
	// Latest fetches and validates the channel manifest.
	Latest(ctx context.Context) (*UpdateInfo, error)

	// ResolveFiles turns the manifest's file descriptors into absolute URLs.
	ResolveFiles(info *UpdateInfo) ([]ResolvedFileInfo, error)

	// UseMultipleRangeRequests reports whether the host serving this
	// provider's files reliably honors several concurrent range requests.
	// Providers backed by hosts that throttle or mangle concurrent ranges
	// return false, forcing sequential execution.
	UseMultipleRangeRequests() bool
}
