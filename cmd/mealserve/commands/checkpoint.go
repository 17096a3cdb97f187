package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/services/inference"
)

// NewCheckpointCommand creates the checkpoint command group
func NewCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect model checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <path>",
		Short: "Show a checkpoint's version, classes and weight shapes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if strings.HasSuffix(path, ".onnx") {
				return fmt.Errorf("%s is an ONNX model; inspect needs a state-dict checkpoint", path)
			}

			ckpt, err := inference.LoadCheckpoint(path, zap.NewNop())
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(map[string]interface{}{
					"version":      ckpt.Version,
					"tag":          ckpt.Tag,
					"num_classes":  ckpt.NumClasses(),
					"weight_shape": ckpt.Weight.Shape,
					"class_names":  ckpt.ClassNames,
				})
				return nil
			}

			fmt.Printf("Version:      %s\n", ckpt.Version)
			if ckpt.Tag != "" {
				fmt.Printf("Tag:          %s\n", ckpt.Tag)
			}
			fmt.Printf("Classes:      %d\n", ckpt.NumClasses())
			fmt.Printf("Weight shape: %v\n", ckpt.Weight.Shape)

			preview := ckpt.ClassNames
			if len(preview) > 10 {
				preview = preview[:10]
			}
			fmt.Printf("Class names:  %s", strings.Join(preview, ", "))
			if len(ckpt.ClassNames) > len(preview) {
				fmt.Printf(" ... (%d more)", len(ckpt.ClassNames)-len(preview))
			}
			fmt.Println()
			return nil
		},
	})

	return cmd
}
