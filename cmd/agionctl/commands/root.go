// Package commands implements the agionctl CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	agion "github.com/agion-ai/agion-go"
)

var (
	flagConfig  string
	flagGateway string
	flagRedis   string
	flagOrg     string
	flagAgent   string
	flagJSON    bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "agionctl",
	Short: "Governance client for AI agents",
	Long: `agionctl talks to the Agion governance service: check permissions,
manage resources and permission grants, inspect policies, and run the
MCP tool server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file (YAML)")
	pf.StringVar(&flagGateway, "gateway", "", "governance service URL (overrides config)")
	pf.StringVar(&flagRedis, "redis", "", "redis URL for events and policy push (overrides config)")
	pf.StringVar(&flagOrg, "org", "", "organization id")
	pf.StringVar(&flagAgent, "agent", "", "agent id")
	pf.BoolVar(&flagJSON, "json", false, "machine-readable output")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// loadConfig merges the config file with CLI overrides.
func loadConfig() (agion.Config, error) {
	cfg, err := agion.LoadConfig(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagGateway != "" {
		cfg.GatewayURL = flagGateway
	}
	if flagRedis != "" {
		cfg.RedisURL = flagRedis
	}
	if flagOrg != "" {
		cfg.OrganizationID = flagOrg
	}
	if flagAgent != "" {
		cfg.AgentID = flagAgent
	}
	return cfg, nil
}

// logger builds the CLI logger at the selected verbosity. Logs go to
// stderr so stdout stays machine-readable (and free for MCP framing).
func logger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient builds and starts a governance client for one CLI command.
func newClient(ctx context.Context) (*agion.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// One-shot CLI commands tolerate a missing initial sync.
	cfg.FailOpen = true

	client, err := agion.New(cfg, agion.WithLogger(logger()))
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
