package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/services/nutrition"
)

// NewNutritionCommand creates the nutrition command group
func NewNutritionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nutrition",
		Short: "Work with nutrition mapping tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "lint <path>",
		Short: "Parse a nutrition table and report what it maps",
		Long:  "Parses the table the way the server does at startup and reports valid entries, skipped entries and the per-category coverage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapper, err := nutrition.Load(args[0], zap.NewNop())
			if err != nil {
				return err
			}

			coverage := make(map[string]int, len(nutrition.Categories))
			for _, category := range nutrition.Categories {
				coverage[category] = len(mapper.SuggestionsFor(category, mapper.Len()))
			}

			if outputJSON {
				OutputJSON(map[string]interface{}{
					"foods":    mapper.Len(),
					"skipped":  mapper.Skipped(),
					"coverage": coverage,
				})
			} else {
				fmt.Printf("Foods:   %d\n", mapper.Len())
				fmt.Printf("Skipped: %d\n", mapper.Skipped())

				rows := make([][]string, 0, len(nutrition.Categories))
				for _, category := range nutrition.Categories {
					rows = append(rows, []string{category, strconv.Itoa(coverage[category])})
				}
				OutputTable([]string{"CATEGORY", "FOODS"}, rows)
			}

			if mapper.Len() == 0 {
				return fmt.Errorf("table maps no foods")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "categories",
		Short: "List the nutrition categories a balanced meal is scored against",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				OutputJSON(nutrition.Categories)
				return
			}
			for _, category := range nutrition.Categories {
				fmt.Println(category)
			}
		},
	})

	return cmd
}
