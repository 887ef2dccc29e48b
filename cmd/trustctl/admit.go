package trustctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/juergengeck/esp32/pkg/identity"
)

// newAdmitCmd admits a certificate or profile read as JSON from a file (or
// stdin with "-") into the node's graph.
func newAdmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admit",
		Short: "Admit a certificate or profile into the graph",
	}
	cmd.AddCommand(newAdmitCertCmd())
	cmd.AddCommand(newAdmitProfileCmd())
	return cmd
}

func newAdmitCertCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Admit a certificate from a JSON file",
		Run: func(cmd *cobra.Command, args []string) {
			var cert identity.Certificate
			if err := readJSONFile(path, &cert); err != nil {
				fmt.Printf("Error reading certificate: %s\n", err)
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

			if err := node.AdmitCertificate(&cert); err != nil {
				fmt.Printf("Error admitting certificate: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("admitted")
		},
	}
	cmd.Flags().StringVar(&path, "file", "-", "Path to a JSON-encoded certificate, or - for stdin")
	return cmd
}

func newAdmitProfileCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Admit a profile from a JSON file",
		Run: func(cmd *cobra.Command, args []string) {
			var profile identity.Profile
			if err := readJSONFile(path, &profile); err != nil {
				fmt.Printf("Error reading profile: %s\n", err)
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

			if err := node.AdmitProfile(&profile); err != nil {
				fmt.Printf("Error admitting profile: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("admitted")
		},
	}
	cmd.Flags().StringVar(&path, "file", "-", "Path to a JSON-encoded profile, or - for stdin")
	return cmd
}

func readJSONFile(path string, v interface{}) error {
	var data []byte
	var err error
	if path == "-" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "reading JSON from stdin, finish with Ctrl-D")
		}
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
