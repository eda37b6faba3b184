package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agion "github.com/agion-ai/agion-go"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Inspect and manage policies",
}

var (
	polEnabledOnly bool
	polExpr        string
	polPriority    int
	polDesc        string
	polType        string
	polContext     string
)

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies on the governance service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			list, err := client.ListPolicies(ctx, polEnabledOnly)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(list)
			}
			for _, p := range list.Policies {
				state := color.GreenString("enabled")
				if !p.Enabled {
					state = color.RedString("disabled")
				}
				fmt.Printf("%4d  prio %3d  %-8s  %s\n", p.ID, p.Priority, state, p.Name)
			}
			return nil
		})
	},
}

var policiesLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "Show the rules loaded in the local engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			snap := client.Engine().Current()
			if flagJSON {
				return printJSON(snap.Rules())
			}
			fmt.Printf("snapshot v%d, %d rules\n\n", snap.Version, snap.Len())
			for _, r := range snap.Rules() {
				fmt.Printf("prio %3d  %-8s/%-8s  %-20s  %s\n",
					r.Priority, r.Decision, r.Enforcement, r.ID, r.Expression)
			}
			return nil
		})
	},
}

var policiesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid policy id %q", args[0])
		}
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			pol, err := client.GetPolicy(ctx, id)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(pol)
			}
			state := color.GreenString("enabled")
			if !pol.Enabled {
				state = color.RedString("disabled")
			}
			fmt.Printf("policy %d: %s (%s)\n", pol.ID, pol.Name, state)
			fmt.Printf("  type:        %s\n", pol.Type)
			fmt.Printf("  priority:    %d\n", pol.Priority)
			fmt.Printf("  enforcement: %s/%s\n", pol.Enforcement, pol.EnforcementLvl)
			if pol.Description != "" {
				fmt.Printf("  description: %s\n", pol.Description)
			}
			if pol.PolicyExpr != "" {
				fmt.Printf("  expr:        %s\n", pol.PolicyExpr)
			}
			return nil
		})
	},
}

var policiesEvaluateCmd = &cobra.Command{
	Use:   "evaluate <id>",
	Short: "Test-evaluate a policy against a context without recording a decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid policy id %q", args[0])
		}
		testCtx := map[string]any{}
		if polContext != "" {
			if err := json.Unmarshal([]byte(polContext), &testCtx); err != nil {
				return fmt.Errorf("parsing --context: %w", err)
			}
		}
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			eval, err := client.EvaluatePolicy(ctx, id, testCtx)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(eval)
			}
			if eval.Result == "allow" {
				color.Green("✓ allow")
			} else {
				color.Red("✗ %s", eval.Result)
			}
			if eval.Reason != "" {
				fmt.Printf("  reason: %s\n", eval.Reason)
			}
			return nil
		})
	},
}

var policiesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a CEL policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			pol, err := client.CreatePolicy(ctx, agion.CreatePolicyRequest{
				Name:        args[0],
				Description: polDesc,
				Type:        polType,
				Priority:    polPriority,
				Enabled:     true,
				PolicyExpr:  polExpr,
				CreatedBy:   flagAgent,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(pol)
			}
			color.Green("✓ created policy %d: %s", pol.ID, pol.Name)
			return nil
		})
	},
}

func init() {
	policiesListCmd.Flags().BoolVar(&polEnabledOnly, "enabled", false, "only enabled policies")

	policiesCreateCmd.Flags().StringVar(&polExpr, "expr", "", "CEL expression")
	policiesCreateCmd.Flags().IntVar(&polPriority, "priority", 0, "evaluation priority")
	policiesCreateCmd.Flags().StringVar(&polDesc, "description", "", "description")
	policiesCreateCmd.Flags().StringVar(&polType, "type", "access", "policy type")
	_ = policiesCreateCmd.MarkFlagRequired("expr")

	policiesEvaluateCmd.Flags().StringVar(&polContext, "context", "", "evaluation context as JSON")

	policiesCmd.AddCommand(policiesListCmd, policiesLocalCmd, policiesGetCmd, policiesEvaluateCmd, policiesCreateCmd)
	rootCmd.AddCommand(policiesCmd)
}
