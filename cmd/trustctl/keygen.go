package trustctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juergengeck/esp32/pkg/cryptocap"
)

// newKeygenCmd creates a new software-backed keypair and prints its KeyID.
// It does not touch the graph or persistence store: a generated key only
// becomes part of the trust graph once it appears in an admitted profile.
func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new keypair",
		Long:  `Generates a new Ed25519 keypair with the software crypto provider and prints its KeyID.`,
		Run: func(cmd *cobra.Command, args []string) {
			provider := cryptocap.NewSoftwareProvider()
			keyID, err := provider.GenerateKeypair(cmd.Context())
			if err != nil {
				fmt.Printf("Error generating keypair: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(string(keyID))
		},
	}
}
