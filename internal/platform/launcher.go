package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

// Launcher starts a downloaded installer using the platform's conventions:
// the installer binary itself on Windows and Linux (made executable first),
// and `open` on macOS. The process is started detached; the host quits
// afterwards so the installer can replace it.
type Launcher struct {
	// Args are extra arguments passed to the installer (e.g. silent-install
	// switches).
	Args []string

	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Launch implements the updater's InstallerLauncher capability.
func (l *Launcher) Launch(ctx context.Context, installerPath string, adminRequired bool) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}

	cmd, err := l.command(ctx, installerPath, adminRequired)
	if err != nil {
		return err
	}
	log.Info("launching installer", "path", installerPath, "admin", adminRequired)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting installer %s: %w", installerPath, err)
	}
	// Intentionally not waited on: the installer outlives this process.
	return cmd.Process.Release()
}

func (l *Launcher) command(ctx context.Context, installerPath string, adminRequired bool) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		args := append([]string{installerPath, "--args"}, l.Args...)
		return exec.CommandContext(ctx, "open", args...), nil
	case "windows":
		args := l.Args
		if adminRequired {
			// PowerShell's RunAs verb raises the elevation prompt.
			psArgs := []string{"-NoProfile", "-Command", "Start-Process", "-Verb", "RunAs", "-FilePath", installerPath}
			return exec.CommandContext(ctx, "powershell", psArgs...), nil
		}
		return exec.CommandContext(ctx, installerPath, args...), nil
	default:
		if err := chmod(installerPath, 0755); err != nil {
			return nil, fmt.Errorf("marking installer executable: %w", err)
		}
		return exec.CommandContext(ctx, installerPath, l.Args...), nil
	}
}

// chmod sets file permissions. On Windows this is a no-op because Windows
// does not support Unix-style permission bits.
func chmod(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}
