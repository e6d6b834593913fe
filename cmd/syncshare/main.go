package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	AppName    = "syncshare"
	AppVersion = "0.1.0"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	ConfigFile string
	LogLevel   string
}

var flags globalFlags

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: "Sync folders with a nearby device",
		Long: `syncshare discovers a nearby device over the direct or the classic link
and synchronizes shared folders with it, one session per folder.`,
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "config file (default is $HOME/.syncshare/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd.Execute()
}
