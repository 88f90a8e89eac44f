package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Junction SQL tables",
		Long:  "Migrates the directory, tool-server and conversation tables for the sqlite or mysql backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded config for agent %q from %s\n", cfg.Agent.ID, configPath)

	gormDB, err := db.Open(cfg.Directory)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer sqlDB.Close()

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Directory.Backend)
	return nil
}
