package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/postgres"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run log database tools",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the run log tables",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrate,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := postgres.Open(cfg.Backends.PostgresDSN)
	if err != nil {
		return err
	}
	if err := postgres.AutoMigrate(db); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✅ Run log tables are up to date")
	return nil
}
