package cache

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
	"github.com/krisdages/electron-builder-lib-slim/internal/provider"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return New(t.TempDir(), "demo-updater", slog.Default())
}

func writeDownload(t *testing.T, c *Cache, name, content string) string {
	t.Helper()
	if err := c.EnsurePendingDir(); err != nil {
		t.Fatal(err)
	}
	path := c.FilePath(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testUpdate(version, sha string) (*provider.UpdateInfo, provider.ResolvedFileInfo) {
	return &provider.UpdateInfo{Version: version}, provider.ResolvedFileInfo{SHA512: sha}
}

func TestValidateDownloadedPathHit(t *testing.T) {
	c := newTestCache(t)
	path := writeDownload(t, c, "app-2.0.0.bin", "installer payload")
	info, file := testUpdate("2.0.0", "abc")
	if err := c.SetDownloadedFile("app-2.0.0.bin", info, file, "", true); err != nil {
		t.Fatal(err)
	}

	got, ok := c.ValidateDownloadedPath(info, file)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got != path {
		t.Errorf("hit path = %q, want %q", got, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("hit must leave the cached file in place: %v", err)
	}
}

func TestValidateDownloadedPathMissWhenEmpty(t *testing.T) {
	c := newTestCache(t)
	info, file := testUpdate("2.0.0", "abc")
	if _, ok := c.ValidateDownloadedPath(info, file); ok {
		t.Error("empty cache should miss")
	}
}

func TestValidateDownloadedPathVersionMismatchClears(t *testing.T) {
	c := newTestCache(t)
	path := writeDownload(t, c, "app-2.0.0.bin", "installer payload")
	info, file := testUpdate("2.0.0", "abc")
	if err := c.SetDownloadedFile("app-2.0.0.bin", info, file, "", true); err != nil {
		t.Fatal(err)
	}

	newer, newerFile := testUpdate("3.0.0", "def")
	if _, ok := c.ValidateDownloadedPath(newer, newerFile); ok {
		t.Fatal("stale version should miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("mismatch should clear the stale download")
	}
}

func TestValidateDownloadedPathSizeMismatchClears(t *testing.T) {
	c := newTestCache(t)
	path := writeDownload(t, c, "app-2.0.0.bin", "installer payload")
	info, file := testUpdate("2.0.0", "abc")
	if err := c.SetDownloadedFile("app-2.0.0.bin", info, file, "", true); err != nil {
		t.Fatal(err)
	}

	// Truncate by one byte after the sidecar was recorded.
	if err := os.WriteFile(path, []byte("installer payloa"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.ValidateDownloadedPath(info, file); ok {
		t.Error("a one-byte size difference must miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("size mismatch should clear the corrupt download")
	}
}

func TestValidateDownloadedPathCorruptSidecarClears(t *testing.T) {
	c := newTestCache(t)
	writeDownload(t, c, "app-2.0.0.bin", "installer payload")
	if err := os.WriteFile(filepath.Join(c.PendingDir(), updateInfoName), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	info, file := testUpdate("2.0.0", "abc")
	if _, ok := c.ValidateDownloadedPath(info, file); ok {
		t.Error("corrupt sidecar should miss, not error")
	}
	if _, err := os.Stat(c.PendingDir()); !os.IsNotExist(err) {
		t.Error("corrupt sidecar should clear the pending directory")
	}
}

func TestReadInfoRejectsPathTraversal(t *testing.T) {
	c := newTestCache(t)
	if err := c.EnsurePendingDir(); err != nil {
		t.Fatal(err)
	}
	sidecar := `{"fileName":"../../escape.bin","version":"2.0.0","sha512":"abc","size":1}`
	if err := os.WriteFile(filepath.Join(c.PendingDir(), updateInfoName), []byte(sidecar), 0644); err != nil {
		t.Fatal(err)
	}

	info, file := testUpdate("2.0.0", "abc")
	if _, ok := c.ValidateDownloadedPath(info, file); ok {
		t.Error("sidecar naming a path outside the pending dir must miss")
	}
}

func TestReadInfoTagsCorruption(t *testing.T) {
	sidecars := map[string]string{
		"broken JSON":    "{broken",
		"path traversal": `{"fileName":"../../escape.bin","version":"2.0.0","sha512":"abc","size":1}`,
	}
	for name, sidecar := range sidecars {
		c := newTestCache(t)
		if err := c.EnsurePendingDir(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(c.PendingDir(), updateInfoName), []byte(sidecar), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := c.readInfo(); errcode.CodeOf(err) != errcode.CacheCorruption {
			t.Errorf("%s: want CacheCorruption, got %v", name, err)
		}
	}
}

func TestSetDownloadedFileSkipsWriteOnReuse(t *testing.T) {
	c := newTestCache(t)
	info, file := testUpdate("2.0.0", "abc")
	if err := c.SetDownloadedFile("missing.bin", info, file, "", false); err != nil {
		t.Errorf("reuse path must not stat or write: %v", err)
	}
}

func TestClearPreservesStagingID(t *testing.T) {
	c := newTestCache(t)
	writeDownload(t, c, "app.bin", "x")
	if err := os.WriteFile(c.StagingUserIDFile(), []byte("id"), 0644); err != nil {
		t.Fatal(err)
	}

	c.Clear()

	if _, err := os.Stat(c.PendingDir()); !os.IsNotExist(err) {
		t.Error("Clear should remove the pending directory")
	}
	if _, err := os.Stat(c.StagingUserIDFile()); err != nil {
		t.Errorf("Clear must not touch the staging identity: %v", err)
	}
}
