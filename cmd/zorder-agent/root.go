package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/zorder/internal/config"
	"github.com/BrandonDHaskell/zorder/internal/logging"
	"github.com/BrandonDHaskell/zorder/internal/vault"
)

const serviceName = "zorder-agent"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "zorder-agent",
	Short:         "Endpoint agent for owner-approved bill edits",
	Long:          "Polls the coordinator for approved edits, types the stored login on trigger, and records the session for the owner.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (environment variables win)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("zorder-agent", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (config.AgentConfig, *slog.Logger, error) {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return config.AgentConfig{}, nil, err
	}
	return cfg, logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel, serviceName), nil
}

func openVault(cfg config.AgentConfig, logger *slog.Logger) *vault.Vault {
	path := cfg.CredsPath
	if path == "" {
		path = vault.DefaultPath()
	}
	return vault.New(path, vault.OSKeyStore{}, logger)
}
