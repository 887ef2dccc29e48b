package trustctl

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/juergengeck/esp32/pkg/server"
)

// newServeCmd starts the node's read-only debug HTTP surface, with a
// cron-scheduled persistence checkpoint running alongside it so a
// long-lived node never holds hours of admissions only in memory.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debug/introspection HTTP server",
		Long:  `Starts a loopback-oriented, read-only HTTP server exposing trust verdicts, rights, health, and metrics.`,
		Run: func(cmd *cobra.Command, args []string) {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			node, metricsRegistry, err := buildNode(nodeConfigFromGlobal(), logger)
			if err != nil {
				fmt.Printf("Error starting node: %s\n", err)
				os.Exit(1)
			}
			defer node.Stop(ctx)

			srv := server.New(cfg, logger, node, metricsRegistry)

			scheduler := cron.New()
			if cfg.Store.AutoSaveSchedule != "" {
				_, err := scheduler.AddFunc(cfg.Store.AutoSaveSchedule, func() {
					if err := node.Save(ctx); err != nil {
						logger.WithError(err).Warn("scheduled persistence checkpoint failed")
					}
				})
				if err != nil {
					fmt.Printf("Error scheduling auto-save: %s\n", err)
					os.Exit(1)
				}
				scheduler.Start()
				defer scheduler.Stop()
			}

			logger.WithFields(map[string]interface{}{
				"port":      cfg.Server.Port,
				"auto_save": cfg.Store.AutoSaveSchedule,
			}).Info("starting debug server")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			if err := g.Wait(); err != nil {
				fmt.Printf("Server error: %s\n", err)
				os.Exit(1)
			}
		},
	}
	cfg.AddServerFlags(cmd)
	return cmd
}
