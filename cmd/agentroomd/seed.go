package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentroom"
)

func newSeedCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load actors, agent definitions, rooms and relationships from a YAML file",
		Long: `Seed writes fixtures into the configured store. Records that already
exist are skipped, so seeding the same file twice is harmless. Seeding the
memory driver only makes sense through "serve --fixtures".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			fx, err := agentroom.LoadFixtures(args[0])
			if err != nil {
				return err
			}
			logger, err := cfg.Logging.NewLogger()
			if err != nil {
				return err
			}
			gw, err := agentroom.OpenGateway(cfg.Storage, logger)
			if err != nil {
				return err
			}
			res, seedErr := agentroom.Seed(cmd.Context(), gw, fx)
			if err := gw.Close(); err != nil && seedErr == nil {
				seedErr = fmt.Errorf("close store: %w", err)
			}
			if seedErr != nil {
				return seedErr
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"seeded %d agent definitions, %d actors, %d rooms, %d memberships, %d relationships (%d skipped)\n",
				res.AgentDefinitions, res.Actors, res.Rooms, res.Members, res.Relationships, res.Skipped)
			return err
		},
	}
}
