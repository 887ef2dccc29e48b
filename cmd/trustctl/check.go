package trustctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/rootset"
)

// newCheckCmd evaluates a key's trust verdict against the current root set.
func newCheckCmd() *cobra.Command {
	var everybody bool

	cmd := &cobra.Command{
		Use:   "check <key-id>",
		Short: "Evaluate a key's trust verdict",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			node, _, err := buildNode(nodeConfigFromGlobal(), logger)
			if err != nil {
				fmt.Printf("Error starting node: %s\n", err)
				os.Exit(1)
			}
			defer node.Stop(ctx)

			mode := rootset.MainIdentity
			if everybody {
				mode = rootset.All
			}

			verdict := node.IsKeyTrusted(ctx, identity.KeyID(args[0]), mode)
			fmt.Printf("trusted=%t reason=%s path=%v\n", verdict.Trusted, verdict.Reason, verdict.Path)
		},
	}
	cmd.Flags().BoolVar(&everybody, "fleet", false, "Evaluate against the full fleet root set instead of just the main identity")
	return cmd
}
