package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetFull bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the watermark so the next run re-syncs everything",
	Long: `Clear the sync watermark. The next run fetches the whole library
again; re-applying is safe because syncing is idempotent.

With --full, also force-clear the in-progress flag. Only needed when a
crashed run left it set and the daemon has not restarted since.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		store, err := openStore(settings)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearWatermark(); err != nil {
			return err
		}
		fmt.Println("Watermark cleared, next run is a full sync")

		if resetFull {
			if err := store.ClearStaleRunLock(); err != nil {
				return err
			}
			fmt.Println("Run flag cleared")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetFull, "full", false, "also clear the in-progress flag")
}
