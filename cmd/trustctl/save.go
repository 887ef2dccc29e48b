package trustctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newSaveCmd forces an immediate persistence cycle.
func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Force a persistence checkpoint",
		Run: func(cmd *cobra.Command, args []string) {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			node, _, err := buildNode(nodeConfigFromGlobal(), logger)
			if err != nil {
				fmt.Printf("Error starting node: %s\n", err)
				os.Exit(1)
			}
			defer node.Stop(ctx)

			if err := node.Save(ctx); err != nil {
				fmt.Printf("Error saving: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("saved")
		},
	}
}
