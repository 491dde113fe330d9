package main

import (
	"fmt"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-av/migrations"

	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/database"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var (
		down   bool
		status bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // CLI exit

			switch {
			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back: %w", err)
				}
				fmt.Fprintln(out, "rolled back latest migration")
			case !status:
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
			}

			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			for _, m := range pending {
				fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back the latest migration")
	cmd.Flags().BoolVar(&status, "status", false, "Only print migration status")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}
