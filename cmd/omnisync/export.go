package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the graph as JSONL (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
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

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer f.Close()
			out = f
		}

		n, err := store.ExportJSONL(out)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			fmt.Fprintf(os.Stderr, "Exported %d pages to %s\n", n, args[0])
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import pages from a JSONL export",
	Long: `Read a JSONL export and add its pages to the store. Existing pages
keep their content; imported blocks are appended, never overwritten.`,
	Args: cobra.ExactArgs(1),
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

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		n, err := store.ImportJSONL(f)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d pages from %s\n", n, args[0])
		return nil
	},
}
