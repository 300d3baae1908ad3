// Command omnisync mirrors an Omnivore library into a local Logseq-
// style block graph.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnivore-app/logseq-omnivore/internal/config"
	"github.com/omnivore-app/logseq-omnivore/internal/graph"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "omnisync",
	Short: "Sync Omnivore articles and highlights into a local graph",
	Long: `omnisync incrementally mirrors your Omnivore library into a local
block graph: articles become blocks (or pages), highlights nest under
them, and repeated runs update only what changed while leaving your
own edits alone.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default omnisync.yaml in . or ~/.config/omnisync)")
	rootCmd.AddCommand(syncCmd, daemonCmd, statusCmd, resetCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// openStore opens the graph store and clears any run flag left over
// from an unclean shutdown.
func openStore(settings *config.Settings) (*graph.Store, error) {
	store, err := graph.Open(settings.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.ClearStaleRunLock(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
