// Package trustctl provides the command-line interface for operating a
// trust core node: issuing and admitting certificates, querying trust
// verdicts and rights, and running the node's debug server.
package trustctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/juergengeck/esp32/pkg/config"
	"github.com/juergengeck/esp32/pkg/helper/log"
)

var (
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "trustctl",
		Short: "trustctl operates a trust core node",
		Long:  `trustctl issues and admits certificates, evaluates trust verdicts and rights, and runs a node's debug server.`,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cfg = config.NewDefaultConfig()
	cfg.AddFlagsToCommand(rootCmd)

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newCertifyCmd())
	rootCmd.AddCommand(newAdmitCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newRightsCmd())
	rootCmd.AddCommand(newSaveCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// setupCommand creates a logger and a cancellable context that is
// cancelled on SIGINT/SIGTERM.
func setupCommand(ctx context.Context) (log.Logger, context.Context, context.CancelFunc) {
	logger := log.NewBasicLogger(log.ParseLevel(cfg.LogLevel))
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
			return
		}
	}()

	return logger, ctx, cancel
}
