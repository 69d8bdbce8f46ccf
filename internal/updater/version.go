package updater

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// parseSemver strips a leading "v" and parses the version string, tagging
// failures with the invalid-version code.
func parseSemver(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidVersion, err, "parsing version %q", version)
	}
	return v, nil
}

// versionDecision holds the outcome of comparing current vs remote.
type versionDecision struct {
	// differs is true when the remote version is not the current one.
	differs bool
	// isDowngrade is true when the remote version orders below the current
	// one (always false in raw string mode, which has no ordering).
	isDowngrade bool
}

// compareVersions applies the decision rule: raw string inequality when
// version comparison is disabled, semver ordering otherwise.
func compareVersions(current, remote string, disableComparison bool) (versionDecision, error) {
	if disableComparison {
		return versionDecision{differs: remote != current}, nil
	}
	cv, err := parseSemver(current)
	if err != nil {
		return versionDecision{}, err
	}
	rv, err := parseSemver(remote)
	if err != nil {
		return versionDecision{}, err
	}
	if rv.Equal(cv) {
		return versionDecision{}, nil
	}
	return versionDecision{differs: true, isDowngrade: rv.LessThan(cv)}, nil
}
