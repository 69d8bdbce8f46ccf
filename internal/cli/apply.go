package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(applyCmd)
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Download the available update and hand it to the installer",
	Long: `Checks the feed, downloads the update (reusing a valid cached download
when one exists), and launches the platform installer. The calling
application should exit once this command returns so the installer can
replace it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := newUpdater()
		if err != nil {
			return err
		}

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
		fmt.Fprintf(os.Stderr, "Installing %s from %s\n", res.Info.Version, path)
		return u.QuitAndInstall(cmd.Context())
	},
}
