package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agion-ai/agion-go/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve governance tools over MCP stdio",
	Long: `Starts an MCP server on stdin/stdout exposing check_permission,
list_policies, decision_log, and client_metrics as tools.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close(context.Background()) }()

		srv := mcp.NewServer(client, version, logger())
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
