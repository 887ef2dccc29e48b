package trustctl

import (
	"time"

	"github.com/juergengeck/esp32/pkg/actor"
	"github.com/juergengeck/esp32/pkg/certops"
	"github.com/juergengeck/esp32/pkg/chain"
	"github.com/juergengeck/esp32/pkg/config"
	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/metrics"
	"github.com/juergengeck/esp32/pkg/persist"
	"github.com/juergengeck/esp32/pkg/rights"
	"github.com/juergengeck/esp32/pkg/rootset"
)

// clockNow supplies certops.Operations with wall-clock certificate
// timestamps.
func clockNow() uint64 {
	return uint64(time.Now().Unix())
}

// buildNode wires the trust core's components into a running Actor, leaves
// first: graph, then rights (truster wired in after the evaluator exists),
// then the chain evaluator, then certificate operations, then persistence,
// then the actor itself. The caller owns Start/Stop.
func buildNode(cfg *nodeConfig, logger log.Logger) (*actor.Actor, *metrics.Registry, error) {
	crypto := cryptocap.NewGuardedProvider(cryptocap.NewSoftwareProvider(), logger)
	store := graph.New(logger, crypto.Hash)

	rightsEngine := rights.New(store, crypto)
	evaluator := chain.New(store, crypto, rightsEngine)
	rightsEngine.SetTruster(evaluator)

	var metricsRegistry *metrics.Registry
	if cfg.metricsEnabled {
		metricsRegistry = metrics.NewRegistry(cfg.metricsNamespace)
		evaluator.SetMetrics(metricsRegistry)
	}

	roots, err := loadRootSet(cfg)
	if err != nil {
		return nil, nil, err
	}

	ops := certops.New(crypto, store, clockNow)

	substrate, err := persist.OpenBoltSubstrate(cfg.storePath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening persistence substrate at %s", cfg.storePath)
	}
	persisted := persist.New(substrate, crypto, logger)
	if metricsRegistry != nil {
		persisted.SetMetrics(metricsRegistry)
	}

	node := actor.New(actor.Config{
		Store:       store,
		Evaluator:   evaluator,
		Rights:      rightsEngine,
		Certops:     ops,
		Persist:     persisted,
		Roots:       roots,
		Logger:      logger,
		Metrics:     metricsRegistry,
		MailboxSize: cfg.mailboxSize,
		AdmitPerSec: cfg.admitPerSecond,
		AdmitBurst:  cfg.admitBurst,
	})
	node.Start()

	if _, err := node.Load(); err != nil {
		logger.WithError(err).Warn("starting with an empty graph, no prior persisted state found")
	}

	return node, metricsRegistry, nil
}

func loadRootSet(cfg *nodeConfig) (rootset.Provider, error) {
	if cfg.watchRootSet {
		return rootset.NewFileWatchProvider(cfg.rootSetPath)
	}
	return rootset.NewStaticProvider(cfg.rootSetPath)
}

// nodeConfig narrows config.Config to the fields buildNode needs, so
// subcommands can override store/root-set paths with their own flags
// without mutating the shared global cfg.
type nodeConfig struct {
	storePath        string
	rootSetPath      string
	watchRootSet     bool
	mailboxSize      int
	admitPerSecond   float64
	admitBurst       int
	metricsEnabled   bool
	metricsNamespace string
}

func nodeConfigFromGlobal() *nodeConfig {
	return &nodeConfig{
		storePath:        config.ExpandHomeDir(cfg.Store.Path),
		rootSetPath:      config.ExpandHomeDir(cfg.RootSet.Path),
		watchRootSet:     cfg.RootSet.WatchFile,
		mailboxSize:      cfg.Actor.MailboxSize,
		admitPerSecond:   cfg.Actor.AdmitPerSecond,
		admitBurst:       cfg.Actor.AdmitBurst,
		metricsEnabled:   cfg.Metrics.Enabled,
		metricsNamespace: cfg.Metrics.Namespace,
	}
}
