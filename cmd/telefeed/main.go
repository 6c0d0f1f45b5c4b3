package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fink5984/telefeed/internal/config"
	"github.com/fink5984/telefeed/internal/logging"
)

var (
	version    = "0.1.0"
	logger     = slog.Default()
	configPath string // overridable via --config flag
	cfg        *config.Config
	logCloser  io.Closer
)

func main() {
	root := &cobra.Command{
		Use:   "telefeed",
		Short: "telefeed: multi-account Telegram message relay",
		Long: `telefeed watches the chats of several Telegram accounts and relays
matching messages to destination chats according to per-account rule files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to telefeed.json (default: ./telefeed.json if present)")

	root.AddCommand(runCmd())
	root.AddCommand(routesCmd())
	root.AddCommand(accountsCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath
}

// setup loads the configuration and builds the process logger.
func setup() error {
	var err error
	cfg, err = config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, logCloser, err = logging.New(cfg.General.LogLevel, cfg.General.LogFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	slog.SetDefault(logger)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "telefeed %s\n", version)
		},
	}
}
