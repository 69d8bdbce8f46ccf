// Package cache manages the on-disk download cache: the pending update file,
// the sidecar record linking it to the release it belongs to, and the
// persisted staging identity. The cache directory is namespaced per
// application so channels and apps sharing a machine never collide.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
	"github.com/krisdages/electron-builder-lib-slim/internal/provider"
)

const (
	pendingDirName          = "pending"
	updateInfoName          = "update-info.json"
	stagingIDName           = ".updaterId"
	blockMapCompanionSuffix = ".blockmap"
)

// CachedUpdateInfo is the sidecar record persisted next to a completed
// download. On the next check it decides whether the cached file can be
// reused instead of re-downloading.
type CachedUpdateInfo struct {
	FileName              string    `json:"fileName"`
	Version               string    `json:"version"`
	SHA512                string    `json:"sha512"`
	Size                  int64     `json:"size"`
	PackageHash           string    `json:"packageHash,omitempty"`
	IsAdminRightsRequired bool      `json:"isAdminRightsRequired,omitempty"`
	CachedAt              time.Time `json:"cachedAt"`
}

// Cache owns one application's update cache directory.
type Cache struct {
	dir string
	log *slog.Logger
}

// New creates a cache rooted at <baseDir>/<dirName>. dirName comes from the
// manifest's cacheDirName, falling back to the application name.
func New(baseDir, dirName string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{dir: filepath.Join(baseDir, dirName), log: log}
}

// Dir returns the cache root for this application.
func (c *Cache) Dir() string { return c.dir }

// PendingDir returns the directory holding in-progress and completed
// downloads. It is created on demand.
func (c *Cache) PendingDir() string { return filepath.Join(c.dir, pendingDirName) }

// StagingUserIDFile returns the path of the persisted staging UUID. It lives
// above the pending dir so Clear never resets the install's rollout identity.
func (c *Cache) StagingUserIDFile() string { return filepath.Join(c.dir, stagingIDName) }

// FilePath returns where a downloaded file with the given name lives.
func (c *Cache) FilePath(fileName string) string {
	return filepath.Join(c.PendingDir(), fileName)
}

// BlockMapCompanion returns the path of the block-map companion saved next
// to a cached file, used as the old map on the next differential download.
func (c *Cache) BlockMapCompanion(filePath string) string {
	return filePath + blockMapCompanionSuffix
}

func (c *Cache) infoPath() string { return filepath.Join(c.PendingDir(), updateInfoName) }

// EnsurePendingDir creates the pending directory.
func (c *Cache) EnsurePendingDir() error {
	if err := os.MkdirAll(c.PendingDir(), 0755); err != nil {
		return fmt.Errorf("creating update cache directory: %w", err)
	}
	return nil
}

// ValidateDownloadedPath reuses a previously downloaded file when its
// recorded version and hash equal the requested update's and its on-disk
// size matches the record exactly. Any mismatch or unreadable state clears
// the cache and reports a miss; corruption is recovered locally, never
// surfaced.
func (c *Cache) ValidateDownloadedPath(info *provider.UpdateInfo, file provider.ResolvedFileInfo) (string, bool) {
	rec, err := c.readInfo()
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("update cache sidecar unreadable, clearing cache", "err", err)
			c.Clear()
		}
		return "", false
	}

	if rec.Version != info.Version || rec.SHA512 != file.SHA512 {
		c.log.Info("cached update does not match requested update, clearing cache",
			"cachedVersion", rec.Version, "requestedVersion", info.Version)
		c.Clear()
		return "", false
	}

	path := c.FilePath(rec.FileName)
	st, err := os.Stat(path)
	if err != nil {
		c.log.Warn("cached update file missing, clearing cache", "path", path, "err", err)
		c.Clear()
		return "", false
	}
	if st.Size() != rec.Size {
		c.log.Warn("cached update file size mismatch, clearing cache",
			"path", path, "recorded", rec.Size, "actual", st.Size())
		c.Clear()
		return "", false
	}
	return path, true
}

// SetDownloadedFile persists the sidecar record for a completed download.
// save is false when an already-valid cached file is being reused, avoiding
// a redundant write.
func (c *Cache) SetDownloadedFile(fileName string, info *provider.UpdateInfo, file provider.ResolvedFileInfo, packageHash string, save bool) error {
	if !save {
		return nil
	}
	st, err := os.Stat(c.FilePath(fileName))
	if err != nil {
		return fmt.Errorf("stat downloaded file: %w", err)
	}
	rec := CachedUpdateInfo{
		FileName:              fileName,
		Version:               info.Version,
		SHA512:                file.SHA512,
		Size:                  st.Size(),
		PackageHash:           packageHash,
		IsAdminRightsRequired: info.IsAdminRightsRequired,
		CachedAt:              time.Now().UTC(),
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding update cache sidecar: %w", err)
	}
	if err := os.WriteFile(c.infoPath(), data, 0644); err != nil {
		return fmt.Errorf("writing update cache sidecar: %w", err)
	}
	return nil
}

// Clear deletes the pending directory's contents. Used on validation failure
// or download error so corrupt partial state never survives.
func (c *Cache) Clear() {
	if err := os.RemoveAll(c.PendingDir()); err != nil {
		c.log.Warn("clearing update cache failed", "dir", c.PendingDir(), "err", err)
	}
}

func (c *Cache) readInfo() (*CachedUpdateInfo, error) {
	data, err := os.ReadFile(c.infoPath())
	if err != nil {
		return nil, err
	}
	var rec CachedUpdateInfo
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errcode.Wrap(errcode.CacheCorruption, err, "decoding update cache sidecar")
	}
	if rec.FileName == "" || rec.FileName != filepath.Base(rec.FileName) {
		return nil, errcode.New(errcode.CacheCorruption, "update cache sidecar has invalid file name %q", rec.FileName)
	}
	return &rec, nil
}
