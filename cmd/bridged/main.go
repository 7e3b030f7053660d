// Command bridged runs a signal bridge node.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/signal_bridge/internal/config"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

var version = "0.1.0"

type rootOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bridged",
		Short:         "Signal bridge node",
		Long:          "bridged runs a two-chain message bridge: bridges, relayer and read API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (default: built-in devnet)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(hashCmd())
	root.AddCommand(migrateCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log), nil
}
