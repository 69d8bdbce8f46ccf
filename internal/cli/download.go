package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/krisdages/electron-builder-lib-slim/internal/download"
)

func init() {
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Check for an update and download it into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := newUpdater()
		if err != nil {
			return err
		}

		sub := u.Progress.Subscribe(func(ev download.ProgressEvent) {
			fmt.Fprintf(os.Stderr, "\rDownloading... %3.0f%% (%s/s)", ev.Percent, formatBytes(ev.BytesPerSecond))
		})
		defer sub.Close()

		res, err := u.CheckForUpdates(cmd.Context())
		if err != nil {
			return err
		}
		if !res.Available {
			fmt.Println("Already up to date.")
			return nil
		}

		path, err := u.DownloadUpdate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr)
		fmt.Printf("Downloaded %s to %s\n", res.Info.Version, path)
		return nil
	},
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
