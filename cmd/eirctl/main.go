package main

import (
	"database/sql"
	"fmt"
	"os"

	"EirLedger/internal/config"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// rootConfig is shared by every subcommand.
type rootConfig struct {
	configPath string
	cfg        config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:           "eirctl",
		Short:         "Operate the EIR amortization ledger: schema migrations and one-off calculations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rc.configPath)
			if err != nil {
				return err
			}
			rc.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&rc.configPath, "config", os.Getenv("EIR_CONFIG"), "path to a YAML config file")

	cmd.AddCommand(
		newMigrateCmd(rc),
		newCalculateCmd(rc),
	)
	return cmd
}

func (rc *rootConfig) openDB() (*sql.DB, error) {
	db, err := sql.Open("postgres", rc.cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
