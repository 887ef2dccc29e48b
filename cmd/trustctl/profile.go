package trustctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/identity"
)

// newProfileCmd creates and admits a profile declaring a person's keys.
func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Create and admit profiles",
	}
	cmd.AddCommand(newProfileNewCmd())
	return cmd
}

func newProfileNewCmd() *cobra.Command {
	var profileID string
	var person string
	var owner string
	var keys []string
	var certs []string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a profile for a person and admit it",
		Long:  `Assembles a profile associating --person with the given --key set, mints a profile ID if none is supplied, and admits it into the local graph. Re-running with the same --id and a later clock supersedes the earlier profile.`,
		Run: func(cmd *cobra.Command, args []string) {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			node, _, err := buildNode(nodeConfigFromGlobal(), logger)
			if err != nil {
				fmt.Printf("Error starting node: %s\n", err)
				os.Exit(1)
			}
			defer node.Stop(ctx)

			keyIDs := make([]identity.KeyID, 0, len(keys))
			for _, k := range keys {
				keyIDs = append(keyIDs, identity.KeyID(k))
			}
			certIDs := make([]identity.CertID, 0, len(certs))
			for _, c := range certs {
				certIDs = append(certIDs, identity.CertID(c))
			}

			hasher := cryptocap.NewSoftwareProvider().Hash
			profile, err := identity.NewProfile(
				identity.ProfileID(profileID),
				identity.PersonID(person),
				identity.PersonID(owner),
				keyIDs, certIDs, clockNow(), hasher,
			)
			if err != nil {
				fmt.Printf("Error assembling profile: %s\n", err)
				os.Exit(1)
			}

			if err := node.AdmitProfile(&profile); err != nil {
				fmt.Printf("Error admitting profile: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(string(profile.ProfileID))
		},
	}

	cmd.Flags().StringVar(&profileID, "id", "", "Profile ID to reuse for supersession (minted when empty)")
	cmd.Flags().StringVar(&person, "person", "", "PersonID the profile describes (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "PersonID authoring the profile (defaults to --person)")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "KeyID owned by the person (repeatable)")
	cmd.Flags().StringArrayVar(&certs, "cert", nil, "CertID attached to the profile (repeatable)")
	cmd.MarkFlagRequired("person")

	return cmd
}
