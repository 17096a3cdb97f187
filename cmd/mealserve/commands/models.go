package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mealserve/mealserve/internal/services/models"
)

// NewModelsCommand creates the models command group
func NewModelsCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect models on a running server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded models",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Object string        `json:"object"`
				Data   []models.Info `json:"data"`
			}
			if err := APIGet(ctx, "/v1/models", &resp); err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(resp.Data)
				return nil
			}

			rows := make([][]string, 0, len(resp.Data))
			for _, info := range resp.Data {
				rows = append(rows, []string{
					info.ID,
					info.Version,
					strconv.Itoa(info.NumClasses),
					strconv.FormatInt(info.RequestCount, 10),
					fmt.Sprintf("%.1f", info.AvgLatencyMS),
					formatLastUsed(info.LastUsed),
				})
			}
			OutputTable([]string{"ID", "VERSION", "CLASSES", "REQUESTS", "AVG_MS", "LAST_USED"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one model in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info models.Info
			if err := APIGet(ctx, "/v1/models/"+args[0], &info); err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(info)
				return nil
			}

			fmt.Printf("ID:          %s\n", info.ID)
			fmt.Printf("Version:     %s\n", info.Version)
			if info.Tag != "" {
				fmt.Printf("Tag:         %s\n", info.Tag)
			}
			fmt.Printf("Classes:     %d\n", info.NumClasses)
			fmt.Printf("Input size:  %d\n", info.InputSize)
			fmt.Printf("Requests:    %d\n", info.RequestCount)
			fmt.Printf("Avg latency: %.1fms\n", info.AvgLatencyMS)
			fmt.Printf("Last used:   %s\n", formatLastUsed(info.LastUsed))
			fmt.Printf("Loaded at:   %s\n", info.LoadedAt.Format(time.RFC3339))
			return nil
		},
	})

	return cmd
}

func formatLastUsed(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
