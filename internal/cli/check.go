package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krisdages/electron-builder-lib-slim/internal/config"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the feed for an available update",
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := newUpdater()
		if err != nil {
			return err
		}

		res, err := u.CheckForUpdates(cmd.Context())
		if err != nil {
			return err
		}

		switch {
		case res.Available:
			fmt.Printf("Update available: %s -> %s\n", currentVersion(), res.Info.Version)
			if res.Info.ReleaseNotes != "" {
				fmt.Printf("\n%s\n", res.Info.ReleaseNotes)
			}
		case res.StagedOut:
			fmt.Printf("Version %s is rolling out gradually; this install is not included yet.\n", res.Info.Version)
		default:
			fmt.Println("Already up to date.")
		}
		return nil
	},
}

// currentVersion resolves the installed version the same way newUpdater
// does: flag first, then config. newUpdater rejects an empty version before
// any check runs, so this is never blank when printed.
func currentVersion() string {
	return setting(flagAppVersion, config.KeyAppVersion)
}
