package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agion "github.com/agion-ai/agion-go"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Manage governed resources",
}

var (
	resType   string
	resStatus string
	resLimit  int

	resCreateType string
	resCreateDesc string
	resCreateTier int
	resCreateRisk string
)

var resourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			list, err := client.ListResources(ctx, agion.ResourceFilter{
				ResourceType: agion.ResourceType(resType),
				Status:       agion.ResourceStatus(resStatus),
				Limit:        resLimit,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(list)
			}
			for _, r := range list.Resources {
				status := color.GreenString(string(r.Status))
				if r.Status != agion.ResourceActive {
					status = color.YellowString(string(r.Status))
				}
				fmt.Printf("%-36s  %-14s  %-8s  tier %d  %s\n",
					r.ID, r.ResourceType, status, r.TrustTierRequired, r.Name)
			}
			fmt.Printf("\n%d of %d resources\n", len(list.Resources), list.Total)
			return nil
		})
	},
}

var resourcesGetCmd = &cobra.Command{
	Use:   "get <resource-id>",
	Short: "Show one resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			res, err := client.GetResource(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var resourcesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			res, err := client.CreateResource(ctx, agion.CreateResourceRequest{
				Name:              args[0],
				ResourceType:      agion.ResourceType(resCreateType),
				Description:       resCreateDesc,
				TrustTierRequired: resCreateTier,
				RiskLevel:         agion.RiskLevel(resCreateRisk),
				CreatedBy:         flagAgent,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(res)
			}
			color.Green("✓ created %s (%s)", res.Name, res.ID)
			return nil
		})
	},
}

var resourcesChildrenCmd = &cobra.Command{
	Use:   "children <resource-id>",
	Short: "List a resource's direct children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			children, err := client.GetResourceChildren(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(children)
			}
			for _, r := range children {
				fmt.Printf("%-36s  %-14s  %s\n", r.ID, r.ResourceType, r.Name)
			}
			return nil
		})
	},
}

var resourcesDeleteCmd = &cobra.Command{
	Use:   "delete <resource-id>",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			if err := client.DeleteResource(ctx, args[0]); err != nil {
				return err
			}
			color.Green("✓ deleted %s", args[0])
			return nil
		})
	},
}

func init() {
	resourcesListCmd.Flags().StringVar(&resType, "type", "", "filter by resource type")
	resourcesListCmd.Flags().StringVar(&resStatus, "status", "", "filter by status")
	resourcesListCmd.Flags().IntVar(&resLimit, "limit", 50, "max results")

	resourcesCreateCmd.Flags().StringVar(&resCreateType, "type", string(agion.ResourceAPI), "resource type")
	resourcesCreateCmd.Flags().StringVar(&resCreateDesc, "description", "", "description")
	resourcesCreateCmd.Flags().IntVar(&resCreateTier, "tier", 0, "required trust tier")
	resourcesCreateCmd.Flags().StringVar(&resCreateRisk, "risk", string(agion.RiskLow), "risk level")

	resourcesCmd.AddCommand(resourcesListCmd, resourcesGetCmd, resourcesCreateCmd,
		resourcesChildrenCmd, resourcesDeleteCmd)
	rootCmd.AddCommand(resourcesCmd)
}

// withClient runs fn with a started client and a bounded context.
func withClient(cmd *cobra.Command, fn func(context.Context, *agion.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(ctx) }()
	return fn(ctx, client)
}
