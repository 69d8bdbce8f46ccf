package platform

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestChmod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installer.bin")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := chmod(path, 0755); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0755 {
			t.Errorf("permissions = %o, want %o", perm, 0755)
		}
	}
}

func TestCommandMarksInstallerExecutable(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("direct-exec path only applies outside darwin/windows")
	}

	path := filepath.Join(t.TempDir(), "installer.bin")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	l := &Launcher{Args: []string{"--silent"}}
	cmd, err := l.command(context.Background(), path, false)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Args[0] != path {
		t.Errorf("command runs %q, want the installer %q", cmd.Args[0], path)
	}
	if len(cmd.Args) != 2 || cmd.Args[1] != "--silent" {
		t.Errorf("extra args not passed through: %v", cmd.Args)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0111 == 0 {
		t.Error("installer was not marked executable")
	}
}
