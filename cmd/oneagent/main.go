// Command oneagent runs the agent coordination service: registry, routing,
// membership, conversation logs and workflow triggers behind a JSON-RPC
// endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

const banner = `
   ___             _                    _
  / _ \ _ __   ___/_\   __ _  ___ _ __ | |_
 | | | | '_ \ / _ \//\\ / _' |/ _ \ '_ \| __|
 | |_| | | | |  __/  _  \ (_| |  __/ | | | |_
  \___/|_| |_|\___\_/ \_/\__, |\___|_| |_|\__|
                         |___/
`

func main() {
	rootCmd := &cobra.Command{
		Use:           "oneagent",
		Short:         "Agent coordination service",
		Long:          "oneagent registers agents, routes messages between them, tracks membership over a bus, and fires workflow triggers on delivered messages.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oneagent %s\n", version)
		},
	}
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Protocol.Listen = listen
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			return runServe(cmd.Context(), cfg, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("ONEAGENT_CONFIG"), "config file (.toml, .yaml)")
	cmd.Flags().StringVar(&listen, "listen", "", "override protocol.listen")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log.level")
	return cmd
}
