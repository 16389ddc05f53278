package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
)

var (
	seedReader string
	seedChip   string
)

var seedDevCmd = &cobra.Command{
	Use:   "seed-dev",
	Short: "Create a demo reader, day-shift group and member",
	RunE:  runSeedDev,
}

func init() {
	seedDevCmd.Flags().StringVar(&seedReader, "reader", "FRONTDOOR", "reader identifier (its MQTT topic)")
	seedDevCmd.Flags().StringVar(&seedChip, "chip", "0000012345", "demo chip number")
}

func runSeedDev(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Env == "production" {
		return fmt.Errorf("seed-dev refuses to run with env=production")
	}
	if cfg.DB.Driver != db.DriverSQLite {
		return fmt.Errorf("seed-dev is only supported for db.driver=%s", db.DriverSQLite)
	}

	ctx := context.Background()
	sqlDB, err := db.Open(ctx, cfg.Store())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{ReaderID: seedReader, ChipNumber: seedChip}); err != nil {
		return err
	}
	fmt.Printf("seeded reader %s with chip %s\n", seedReader, seedChip)
	return nil
}
