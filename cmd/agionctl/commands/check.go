package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agion "github.com/agion-ai/agion-go"
)

var (
	checkActor    string
	checkType     string
	checkTokens   int64
	checkCost     float64
)

var checkCmd = &cobra.Command{
	Use:   "check <resource-id>",
	Short: "Check whether an actor may access a resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkActor, "actor", "", "actor id (defaults to the configured agent)")
	checkCmd.Flags().StringVar(&checkType, "type", string(agion.PermissionUse), "permission type")
	checkCmd.Flags().Int64Var(&checkTokens, "tokens", 0, "estimated request tokens")
	checkCmd.Flags().Float64Var(&checkCost, "cost", 0, "estimated request cost in USD")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(ctx) }()

	actor := checkActor
	if actor == "" {
		actor = flagAgent
	}
	if actor == "" {
		return fmt.Errorf("no actor: pass --actor or --agent")
	}

	checkCtx := map[string]any{}
	if checkTokens > 0 {
		checkCtx["request_tokens"] = checkTokens
	}
	if checkCost > 0 {
		checkCtx["estimated_cost"] = checkCost
	}

	result, err := client.CheckPermission(ctx, actor, agion.ActorAgent,
		args[0], agion.PermissionType(checkType), checkCtx)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(result)
	}

	if result.Allowed {
		color.Green("✓ allowed")
	} else {
		color.Red("✗ denied")
	}
	fmt.Printf("  reason: %s\n", result.Reason)
	if result.Cached {
		fmt.Println("  (served from cache)")
	}
	for k, v := range result.Constraints {
		fmt.Printf("  %s: %v\n", k, v)
	}
	return nil
}
