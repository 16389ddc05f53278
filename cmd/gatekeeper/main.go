package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Door access decisions for MQTT card readers",
	Long: `gatekeeper listens for card reads from door readers, checks the card
against group schedules and reader bindings, records every attempt and
answers each reader with "1" (open) or "0" (stay shut).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: ./gatekeeper.yaml if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedDevCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
