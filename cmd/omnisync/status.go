package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and recent runs",
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

		watermark, err := store.Watermark()
		if err != nil {
			return err
		}
		graphName, err := store.GraphName()
		if err != nil {
			return err
		}
		pages, err := store.PageCount()
		if err != nil {
			return err
		}
		blocks, err := store.BlockCount()
		if err != nil {
			return err
		}

		fmt.Printf("Store:     %s\n", settings.DBPath)
		if graphName != "" {
			fmt.Printf("Graph:     %s\n", graphName)
		}
		if watermark == "" {
			fmt.Println("Watermark: (none, next run is a full sync)")
		} else {
			fmt.Printf("Watermark: %s\n", watermark)
		}
		fmt.Printf("Pages:     %d\n", pages)
		fmt.Printf("Blocks:    %d\n", blocks)

		runs, err := store.RecentRuns(5)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("\nNo runs recorded yet")
			return nil
		}

		fmt.Println("\nRecent runs:")
		for _, r := range runs {
			line := fmt.Sprintf("  %s  %-7s synced=%d deleted=%d",
				r.StartedAt.Local().Format(time.DateTime), r.Status, r.ItemsSynced, r.ItemsDeleted)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}
