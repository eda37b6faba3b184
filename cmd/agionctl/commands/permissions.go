package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agion "github.com/agion-ai/agion-go"
)

var permissionsCmd = &cobra.Command{
	Use:     "permissions",
	Aliases: []string{"perms"},
	Short:   "Manage permission grants",
}

var (
	permActor   string
	permStatus  string
	permLimit   int
	permPurpose string
	permType    string
	permRPM     int
	permTokens  int64
	permCost    float64
	permBy      string
	permNotes   string
	permReason  string
)

var permissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			list, err := client.ListPermissions(ctx, agion.PermissionFilter{
				ActorID: permActor,
				Status:  agion.PermissionStatus(permStatus),
				Limit:   permLimit,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(list)
			}
			for _, p := range list.Permissions {
				fmt.Printf("%-36s  %-10s  %-8s  %s -> %s\n",
					p.ID, statusColor(p.Status), p.PermissionType, p.ActorID, p.ResourceID)
			}
			fmt.Printf("\n%d of %d permissions\n", len(list.Permissions), list.Total)
			return nil
		})
	},
}

var permissionsActiveCmd = &cobra.Command{
	Use:   "active <actor-id>",
	Short: "List an actor's approved permissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			perms, err := client.GetActivePermissions(ctx, args[0], agion.ActorAgent)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(perms)
			}
			for _, p := range perms {
				fmt.Printf("%-36s  %-8s  %s  (day: %d req, %d tok, $%.2f)\n",
					p.ID, p.PermissionType, p.ResourceID,
					p.Usage.CurrentDayRequests, p.Usage.CurrentDayTokens, p.Usage.CurrentDayCostUSD)
			}
			return nil
		})
	},
}

var permissionsRequestCmd = &cobra.Command{
	Use:   "request <resource-id>",
	Short: "Request access to a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			actor := permActor
			if actor == "" {
				actor = flagAgent
			}
			req := agion.RequestPermissionRequest{
				ActorID:        actor,
				ResourceID:     args[0],
				PermissionType: agion.PermissionType(permType),
				Purpose:        permPurpose,
			}
			if permRPM > 0 || permTokens > 0 || permCost > 0 {
				cons := &agion.Constraints{}
				if permRPM > 0 {
					cons.RateLimitRPM = &permRPM
				}
				if permTokens > 0 {
					cons.TokenLimitDay = &permTokens
				}
				if permCost > 0 {
					cons.CostLimitDayUSD = &permCost
				}
				req.Constraints = cons
			}

			perm, err := client.RequestPermission(ctx, req)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(perm)
			}
			color.Yellow("… permission %s is %s", perm.ID, perm.Status)
			return nil
		})
	},
}

var permissionsApproveCmd = &cobra.Command{
	Use:   "approve <permission-id>",
	Short: "Approve a pending permission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			perm, err := client.ApprovePermission(ctx, args[0], permBy, permNotes)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(perm)
			}
			color.Green("✓ approved %s", perm.ID)
			return nil
		})
	},
}

var permissionsRevokeCmd = &cobra.Command{
	Use:   "revoke <permission-id>",
	Short: "Revoke an approved permission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			perm, err := client.RevokePermission(ctx, args[0], permBy, permReason)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(perm)
			}
			color.Red("✗ revoked %s", perm.ID)
			return nil
		})
	},
}

func statusColor(s agion.PermissionStatus) string {
	switch s {
	case agion.PermissionApproved:
		return color.GreenString(string(s))
	case agion.PermissionPending:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}

func init() {
	permissionsListCmd.Flags().StringVar(&permActor, "actor", "", "filter by actor")
	permissionsListCmd.Flags().StringVar(&permStatus, "status", "", "filter by status")
	permissionsListCmd.Flags().IntVar(&permLimit, "limit", 50, "max results")

	permissionsRequestCmd.Flags().StringVar(&permActor, "actor", "", "actor id (defaults to --agent)")
	permissionsRequestCmd.Flags().StringVar(&permType, "type", string(agion.PermissionUse), "permission type")
	permissionsRequestCmd.Flags().StringVar(&permPurpose, "purpose", "", "why access is needed")
	permissionsRequestCmd.Flags().IntVar(&permRPM, "rate-limit", 0, "requests per minute limit")
	permissionsRequestCmd.Flags().Int64Var(&permTokens, "token-limit", 0, "tokens per day limit")
	permissionsRequestCmd.Flags().Float64Var(&permCost, "cost-limit", 0, "USD per day limit")
	_ = permissionsRequestCmd.MarkFlagRequired("purpose")

	permissionsApproveCmd.Flags().StringVar(&permBy, "by", "", "approver identity")
	permissionsApproveCmd.Flags().StringVar(&permNotes, "notes", "", "approval notes")
	_ = permissionsApproveCmd.MarkFlagRequired("by")

	permissionsRevokeCmd.Flags().StringVar(&permBy, "by", "", "revoker identity")
	permissionsRevokeCmd.Flags().StringVar(&permReason, "reason", "", "revocation reason")
	_ = permissionsRevokeCmd.MarkFlagRequired("by")

	permissionsCmd.AddCommand(permissionsListCmd, permissionsActiveCmd,
		permissionsRequestCmd, permissionsApproveCmd, permissionsRevokeCmd)
	rootCmd.AddCommand(permissionsCmd)
}
