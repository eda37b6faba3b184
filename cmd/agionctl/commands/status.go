package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agion "github.com/agion-ai/agion-go"
	"github.com/agion-ai/agion-go/internal/audit"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show client metrics and sync state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			m := client.Metrics()
			if flagJSON {
				return printJSON(m)
			}

			fmt.Println(color.New(color.Bold).Sprint("Policy engine"))
			fmt.Printf("  rules loaded:  %d (snapshot v%d)\n", m.Engine.RulesLoaded, m.Engine.Version)
			fmt.Printf("  evaluations:   %d (avg %s)\n", m.Engine.Evaluations, m.Engine.AverageLatency)

			fmt.Println(color.New(color.Bold).Sprint("Policy sync"))
			fmt.Printf("  syncs: %d, errors: %d, last: %s\n", m.Sync.Syncs, m.Sync.Errors, m.Sync.LastSync)

			fmt.Println(color.New(color.Bold).Sprint("Checks"))
			fmt.Printf("  total: %d, denials: %d\n", m.Checks, m.Denials)
			fmt.Printf("  cache: %d entries, %d hits, %d misses\n", m.Cache.Entries, m.Cache.Hits, m.Cache.Misses)

			fmt.Println(color.New(color.Bold).Sprint("Events"))
			fmt.Printf("  published: %d, failed: %d, dropped: %d, buffered: %d\n",
				m.Events.Published, m.Events.Failed, m.Events.Dropped, m.Events.Buffered)
			return nil
		})
	},
}

var (
	logDeniedOnly bool
	logLimit      int
	logActor      string
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Query the local decision log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *agion.Client) error {
			entries, err := client.DecisionLog(audit.QueryOpts{
				ActorID:    logActor,
				DeniedOnly: logDeniedOnly,
				Limit:      logLimit,
			})
			if err != nil {
				return err
			}
			if entries == nil {
				fmt.Println("decision log is not configured (set decision_log_path)")
				return nil
			}
			if flagJSON {
				return printJSON(entries)
			}
			for _, e := range entries {
				verdict := color.GreenString("allow")
				if !e.Allowed {
					verdict = color.RedString("deny ")
				}
				cached := " "
				if e.Cached {
					cached = "*"
				}
				fmt.Printf("%s  %s%s  %-20s  %-20s  %s\n",
					e.Timestamp, verdict, cached, e.ActorID, e.ResourceID, e.Reason)
			}
			return nil
		})
	},
}

func init() {
	decisionsCmd.Flags().BoolVar(&logDeniedOnly, "denied", false, "only denials")
	decisionsCmd.Flags().IntVar(&logLimit, "limit", 20, "max entries")
	decisionsCmd.Flags().StringVar(&logActor, "actor", "", "filter by actor")

	rootCmd.AddCommand(statusCmd, decisionsCmd)
}
