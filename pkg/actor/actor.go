// Package actor implements the trust core actor: the single logical owner
// serializing every mutating entry point into the graph, chain, rights, and
// persistence components onto one goroutine draining a FIFO mailbox.
package actor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/juergengeck/esp32/pkg/certops"
	"github.com/juergengeck/esp32/pkg/chain"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/metrics"
	"github.com/juergengeck/esp32/pkg/persist"
	"github.com/juergengeck/esp32/pkg/rights"
	"github.com/juergengeck/esp32/pkg/rootset"
)

// request is a unit of mailbox work: run and signal done when finished.
// Every mutating and read-only entry point the actor exposes is expressed
// as one of these, so all of them observe the same FIFO ordering.
type request struct {
	run  func()
	done chan struct{}
}

// Actor owns the graph, evaluator, rights engine, and persistence store,
// and drains a single FIFO mailbox. Its goroutine is the only one that
// ever calls into those components' mutating methods.
type Actor struct {
	store     *graph.Store
	evaluator *chain.Evaluator
	rights    *rights.Engine
	certops   *certops.Operations
	persisted *persist.Store
	roots     rootset.Provider
	limiter   *rate.Limiter
	logger    log.Logger
	metrics   *metrics.Registry

	mailbox chan request
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Config bundles the wired components an Actor drains requests against.
type Config struct {
	Store        *graph.Store
	Evaluator    *chain.Evaluator
	Rights       *rights.Engine
	Certops      *certops.Operations
	Persist      *persist.Store
	Roots        rootset.Provider
	Logger       log.Logger
	Metrics      *metrics.Registry
	MailboxSize  int
	AdmitPerSec  float64
	AdmitBurst   int
}

// New creates an Actor from cfg. Call Start before Submit.
func New(cfg Config) *Actor {
	if cfg.Logger == nil {
		cfg.Logger = log.NewBasicLogger(log.InfoLevel)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	if cfg.AdmitPerSec <= 0 {
		cfg.AdmitPerSec = 50
	}
	if cfg.AdmitBurst <= 0 {
		cfg.AdmitBurst = 100
	}

	return &Actor{
		store:     cfg.Store,
		evaluator: cfg.Evaluator,
		rights:    cfg.Rights,
		certops:   cfg.Certops,
		persisted: cfg.Persist,
		roots:     cfg.Roots,
		limiter:   rate.NewLimiter(rate.Limit(cfg.AdmitPerSec), cfg.AdmitBurst),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		mailbox:   make(chan request, cfg.MailboxSize),
	}
}

// Start launches the single drain goroutine.
func (a *Actor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true

	a.wg.Add(1)
	go a.drain(ctx)
}

func (a *Actor) drain(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			a.drainRemaining()
			return
		case req := <-a.mailbox:
			req.run()
			close(req.done)
		}
	}
}

// drainRemaining runs every request still queued after Stop's context is
// cancelled, so a caller's in-flight Submit is never silently dropped.
func (a *Actor) drainRemaining() {
	for {
		select {
		case req := <-a.mailbox:
			req.run()
			close(req.done)
		default:
			return
		}
	}
}

// Stop cancels the drain loop, drains whatever remains in the mailbox, and
// forces a final persistence Save.
func (a *Actor) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	a.running = false
	a.mu.Unlock()

	a.wg.Wait()

	if a.persisted == nil {
		return nil
	}
	rightsMap := a.rights.AllRights(ctx, a.roots.CurrentRoots(rootset.All))
	return a.persisted.Save(a.store, rightsMap)
}

// submit enqueues fn and blocks until it has run, preserving FIFO order.
func (a *Actor) submit(fn func()) {
	req := request{run: fn, done: make(chan struct{})}
	a.mailbox <- req
	<-req.done
}

// AdmitCertificate submits a certificate for admission, subject to the
// inbound rate limiter. Invalidates the evaluator's cache on success.
func (a *Actor) AdmitCertificate(cert *identity.Certificate) error {
	if !a.limiter.Allow() {
		if a.metrics != nil {
			a.metrics.RecordAdmissionRejected("certificate", "rate_limited")
		}
		return errors.Unavailablef("certificate admission rate limit exceeded")
	}

	var err error
	a.submit(func() {
		err = a.store.AdmitCertificate(cert)
		if err == nil {
			a.evaluator.InvalidateCaches()
			a.persisted.MarkDirty()
			if a.metrics != nil {
				a.metrics.RecordAdmission(cert.Kind.String())
			}
		} else if a.metrics != nil {
			a.metrics.RecordAdmissionRejected("certificate", "invalid")
		}
	})
	return err
}

// AdmitProfile submits a profile for admission, subject to the same
// mailbox rate limiter as certificate admission.
func (a *Actor) AdmitProfile(profile *identity.Profile) error {
	if !a.limiter.Allow() {
		if a.metrics != nil {
			a.metrics.RecordAdmissionRejected("profile", "rate_limited")
		}
		return errors.Unavailablef("profile admission rate limit exceeded")
	}

	var err error
	a.submit(func() {
		err = a.store.AdmitProfile(profile)
		if err == nil {
			a.evaluator.InvalidateCaches()
			a.persisted.MarkDirty()
			if a.metrics != nil {
				a.metrics.RecordAdmission("profile")
			}
		} else if a.metrics != nil {
			a.metrics.RecordAdmissionRejected("profile", "invalid")
		}
	})
	return err
}

// IsKeyTrusted queries the evaluator through the mailbox, so the read
// observes every admission enqueued before it.
func (a *Actor) IsKeyTrusted(ctx context.Context, keyID identity.KeyID, mode rootset.Mode) identity.KeyTrustInfo {
	var verdict identity.KeyTrustInfo
	a.submit(func() {
		verdict = a.evaluator.IsKeyTrusted(ctx, keyID, a.roots.CurrentRoots(mode))
	})
	return verdict
}

// RightsOf queries the rights engine through the mailbox.
func (a *Actor) RightsOf(ctx context.Context, person identity.PersonID, mode rootset.Mode) identity.PersonRights {
	var result identity.PersonRights
	a.submit(func() {
		result = a.rights.RightsOf(ctx, person, a.roots.CurrentRoots(mode))
	})
	return result
}

// Certify issues a new certificate through the mailbox and admits it
// locally in the same turn, so callers never observe a window where an
// issued certificate has not yet been admitted.
func (a *Actor) Certify(ctx context.Context, kind identity.CertKind, payload []byte, signerKey identity.KeyID) (*identity.Certificate, error) {
	var cert *identity.Certificate
	var err error
	a.submit(func() {
		cert, err = a.certops.Certify(ctx, kind, payload, signerKey)
		if err != nil {
			return
		}
		if admitErr := a.store.AdmitCertificate(cert); admitErr != nil {
			err = admitErr
			return
		}
		a.evaluator.InvalidateCaches()
		a.persisted.MarkDirty()
	})
	return cert, err
}

// Save forces an immediate persistence cycle through the mailbox.
func (a *Actor) Save(ctx context.Context) error {
	var err error
	a.submit(func() {
		rightsMap := a.rights.AllRights(ctx, a.roots.CurrentRoots(rootset.All))
		err = a.persisted.Save(a.store, rightsMap)
	})
	return err
}

// Load rebuilds the graph from persistence through the mailbox, then
// invalidates every derived cache.
func (a *Actor) Load() (persist.LoadResult, error) {
	var result persist.LoadResult
	var err error
	a.submit(func() {
		result, err = a.persisted.Load(a.store)
		a.evaluator.InvalidateCaches()
	})
	return result, err
}
