package trustctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juergengeck/esp32/pkg/identity"
)

// newCertifyCmd issues a new certificate through the node's actor and
// admits it in the same mailbox turn.
func newCertifyCmd() *cobra.Command {
	var kindName string
	var signerKey string
	var endorsedKey string
	var signerPerson string
	var grantorPerson string
	var granteePerson string

	cmd := &cobra.Command{
		Use:   "certify",
		Short: "Issue and admit a certificate",
		Long:  `Issues a certificate of the given kind, signs it with --signer-key, and admits it into the local graph.`,
		Run: func(cmd *cobra.Command, args []string) {
			kind, ok := parseCertKind(kindName)
			if !ok {
				fmt.Printf("Error: unknown certificate kind %q (want: affirmation, trust-keys, grant-everybody, grant-self)\n", kindName)
				os.Exit(1)
			}

			var payload []byte
			var err error
			switch kind {
			case identity.TrustKeys:
				payload, err = identity.EncodeTrustKeysPayload(identity.TrustKeysPayload{
					SignerPersonID: identity.PersonID(signerPerson),
					EndorsedKeyID:  identity.KeyID(endorsedKey),
				})
			case identity.RightToDeclareTrustedKeysForEverybody, identity.RightToDeclareTrustedKeysForSelf:
				payload, err = identity.EncodeAuthorityPayload(identity.AuthorityPayload{
					GrantorPersonID: identity.PersonID(grantorPerson),
					GranteePersonID: identity.PersonID(granteePerson),
				})
			case identity.Affirmation:
				payload = []byte(`{}`)
			}
			if err != nil {
				fmt.Printf("Error encoding payload: %s\n", err)
				os.Exit(1)
			}

			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			node, _, err := buildNode(nodeConfigFromGlobal(), logger)
			if err != nil {
				fmt.Printf("Error starting node: %s\n", err)
				os.Exit(1)
			}
			defer node.Stop(ctx)

			cert, err := node.Certify(ctx, kind, payload, identity.KeyID(signerKey))
			if err != nil {
				fmt.Printf("Error issuing certificate: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(string(cert.CertID))
		},
	}

	cmd.Flags().StringVar(&kindName, "kind", "trust-keys", "Certificate kind: affirmation, trust-keys, grant-everybody, grant-self")
	cmd.Flags().StringVar(&signerKey, "signer-key", "", "KeyID to sign the certificate with (required)")
	cmd.Flags().StringVar(&endorsedKey, "endorsed-key", "", "KeyID being endorsed (trust-keys)")
	cmd.Flags().StringVar(&signerPerson, "signer-person", "", "PersonID making the endorsement (trust-keys)")
	cmd.Flags().StringVar(&grantorPerson, "grantor-person", "", "PersonID granting the right (grant-everybody, grant-self)")
	cmd.Flags().StringVar(&granteePerson, "grantee-person", "", "PersonID receiving the right (grant-everybody, grant-self)")
	cmd.MarkFlagRequired("signer-key")

	return cmd
}

func parseCertKind(name string) (identity.CertKind, bool) {
	switch name {
	case "affirmation":
		return identity.Affirmation, true
	case "trust-keys":
		return identity.TrustKeys, true
	case "grant-everybody":
		return identity.RightToDeclareTrustedKeysForEverybody, true
	case "grant-self":
		return identity.RightToDeclareTrustedKeysForSelf, true
	default:
		return 0, false
	}
}
