// Package cli defines the procared commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/trymwestin/procare/internal/config"
	"github.com/trymwestin/procare/internal/core/procare"
	"github.com/trymwestin/procare/internal/entries"
)

var (
	configPath string
	version    = "dev" // set via ldflags at build time

	cfg = config.Defaults()
	log = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "procared",
	Short: "Procare Connect activity feed bridge",
	Long: `procared polls the Procare Connect parent portal for each linked kid and
publishes the latest daily activity over MQTT (Home Assistant discovery)
and a small HTTP API.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log = cfg.Log.Logger(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PROCARE_CONFIG"), "path to config.yaml")
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func procareOptions() procare.Options {
	return procare.Options{
		Hosts:   cfg.Procare.Hosts(),
		Timeout: cfg.Procare.RequestTimeout,
	}
}

func entryStore() *entries.Store {
	return entries.Open(cfg.Entries.Path)
}
