package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omnivore-app/logseq-omnivore/internal/config"
	"github.com/omnivore-app/logseq-omnivore/internal/daemon"
	"github.com/omnivore-app/logseq-omnivore/internal/dashboard"
	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
	enginesync "github.com/omnivore-app/logseq-omnivore/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync scheduler in the foreground",
	Long: `Start the sync daemon: one run immediately, then repeats on the
configured frequency (frequency_minutes, 0 disables repeats). The
config file is watched; edits take effect without a restart.

With dashboard_addr set, a WebSocket dashboard broadcasts live sync
events. With log_file set, daemon output goes to a rotating log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		var logWriter io.Writer = os.Stderr
		if settings.LogFile != "" {
			logWriter = &lumberjack.Logger{
				Filename:   settings.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(logWriter, "[daemon] ", log.LstdFlags)

		var notifier enginesync.Notifier
		if settings.DashboardAddr != "" {
			server := dashboard.NewServer(&dashboard.Config{
				Addr:   settings.DashboardAddr,
				Logger: log.New(logWriter, "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			fmt.Printf("Dashboard: http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
			notifier = server
		}

		run := func(ctx context.Context, s *config.Settings) error {
			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer store.Close()

			client := omnivore.NewClient(omnivore.ClientOptions{
				Endpoint: s.Endpoint,
				APIKey:   s.APIKey,
			})
			runner := enginesync.NewRunner(client, store, s, notifier,
				log.New(logWriter, "[sync] ", log.LstdFlags))
			_, err = runner.Run(ctx)
			return err
		}

		d, err := daemon.NewWithConfig(settings, run, &daemon.Config{Logger: logger})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Daemon running, press Ctrl+C to stop")
		return d.Start(ctx)
	},
}
