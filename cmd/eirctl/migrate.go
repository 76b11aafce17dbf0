package main

import (
	"fmt"

	"EirLedger/internal/persistence"

	"github.com/spf13/cobra"
)

func newMigrateCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect the eir_calc schema migrations",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rc.withMigrator(func(m *persistence.Migrator) error {
				return m.Down(steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return rc.withMigrator(func(m *persistence.Migrator) error {
					return m.Up()
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return rc.withMigrator(func(m *persistence.Migrator) error {
					version, dirty, ok, err := m.Version()
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func (rc *rootConfig) withMigrator(fn func(*persistence.Migrator) error) error {
	db, err := rc.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(persistence.NewMigrator(db, rc.cfg.MigrationsDir))
}
