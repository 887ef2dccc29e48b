package trustctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/rootset"
)

// newRightsCmd reports the endorsement rights held by a person.
func newRightsCmd() *cobra.Command {
	var everybody bool

	cmd := &cobra.Command{
		Use:   "rights <person-id>",
		Short: "Report a person's endorsement rights",
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

			result := node.RightsOf(ctx, identity.PersonID(args[0]), mode)
			fmt.Printf("may_endorse_for_everybody=%t may_endorse_for_self=%t\n", result.MayEndorseForEverybody, result.MayEndorseForSelf)
		},
	}
	cmd.Flags().BoolVar(&everybody, "fleet", false, "Evaluate against the full fleet root set instead of just the main identity")
	return cmd
}
