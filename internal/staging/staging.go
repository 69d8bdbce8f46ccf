// Package staging implements gradual-rollout gating. Each install persists a
// random UUID on first use; the UUID's tail bytes map to a stable fraction in
// [0,1) that is compared against the manifest's staging percentage.
package staging

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UserID returns the persisted per-install staging UUID, creating and saving
// a new one on first use. The file holds the canonical UUID text form.
func UserID(path string) (uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id, parseErr := uuid.Parse(strings.TrimSpace(string(data)))
		if parseErr == nil {
			return id, nil
		}
		slog.Warn("staging user id file is corrupt, regenerating", "path", path, "err", parseErr)
	} else if !os.IsNotExist(err) {
		return uuid.Nil, fmt.Errorf("reading staging user id: %w", err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating staging user id: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return uuid.Nil, fmt.Errorf("creating staging user id directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id.String()), 0644); err != nil {
		return uuid.Nil, fmt.Errorf("writing staging user id: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return uuid.Nil, fmt.Errorf("saving staging user id: %w", err)
	}
	return id, nil
}

// Fraction maps an install UUID to a stable value in [0,1): the last four
// bytes interpreted as a big-endian 32-bit integer divided by 2^32.
func Fraction(id uuid.UUID) float64 {
	tail := binary.BigEndian.Uint32(id[12:16])
	return float64(tail) / float64(math.MaxUint32+1)
}

// Allowed reports whether this install is inside the staged rollout.
// percentage is the manifest's stagingPercentage; nil means the feature is
// off and every install passes. A zero UUID (no persisted id available)
// fails open with a warning rather than blocking the update.
func Allowed(percentage *int, id uuid.UUID) bool {
	if percentage == nil {
		return true
	}
	p := *percentage
	if p < 0 || p > 100 {
		slog.Warn("staging percentage out of range, ignoring gate", "percentage", p)
		return true
	}
	if id == uuid.Nil {
		slog.Warn("no staging user id available, ignoring gate")
		return true
	}
	return Fraction(id) < float64(p)/100
}
