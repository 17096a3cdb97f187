package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mealserve/mealserve/internal/services/serving"
)

// NewStatusCommand creates the status command
func NewStatusCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the operational status of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status serving.Status
			if err := APIGet(ctx, "/v1/status", &status); err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(status)
				return nil
			}

			fmt.Printf("Status:      %s\n", status.Status)
			fmt.Printf("Uptime:      %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			fmt.Printf("In flight:   %d\n", status.InFlight)
			fmt.Printf("Queue depth: %d\n", status.QueueDepth)
			fmt.Printf("Models:      %d\n", len(status.Models))

			if status.Cache.Local != nil {
				local := status.Cache.Local
				fmt.Printf("Local cache: %d/%d entries, %.1f%% hit rate\n",
					local.Size, local.Capacity, local.HitRate*100)
			}
			if status.Cache.Shared != nil && status.Cache.Shared.Enabled {
				shared := status.Cache.Shared
				breaker := "closed"
				if shared.Breaker.Open {
					breaker = "open"
				}
				fmt.Printf("Shared cache: %.1f%% hit rate, breaker %s\n", shared.HitRate*100, breaker)
			} else {
				fmt.Println("Shared cache: disabled")
			}
			return nil
		},
	}
}
