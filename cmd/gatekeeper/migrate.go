package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQLite schema",
	RunE:  runMigrate,
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbCfg := cfg.Store()
	dbCfg.Migrate = true

	sqlDB, err := db.Open(context.Background(), dbCfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	fmt.Println("schema up to date")
	return nil
}
