// Command agentroomd runs the agentroom WebSocket server and manages its
// persisted fixtures.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentroom/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
	envFiles   []string
	addr       string
	storage    string
	dataPath   string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "agentroomd",
		Short:         "Real-time multi-agent chat rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")
	pf.StringVar(&f.addr, "addr", "", "listen address (overrides server.addr)")
	pf.StringVar(&f.storage, "storage", "", "storage driver: memory or pebble")
	pf.StringVar(&f.dataPath, "data", "", "pebble data directory")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newServeCmd(f), newSeedCmd(f), newVersionCmd())
	return cmd
}

// load resolves the configuration: defaults, config file, environment,
// then flags.
func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver = f.storage
	}
	if flags.Changed("data") {
		cfg.Storage.Path = f.dataPath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "agentroomd", version)
			return err
		},
	}
}
