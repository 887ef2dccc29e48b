package actor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juergengeck/esp32/pkg/certops"
	"github.com/juergengeck/esp32/pkg/chain"
	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/persist"
	"github.com/juergengeck/esp32/pkg/rights"
	"github.com/juergengeck/esp32/pkg/rootset"
)

// staticRoots is a rootset.Provider over a fixed key set.
type staticRoots map[identity.KeyID]struct{}

func (r staticRoots) CurrentRoots(rootset.Mode) map[identity.KeyID]struct{} {
	return r
}

type testFixture struct {
	node   *Actor
	store  *graph.Store
	crypto cryptocap.Provider
	roots  staticRoots
}

func newFixture(t *testing.T, overrides func(*Config)) *testFixture {
	t.Helper()

	logger := log.NewBasicLogger(log.ErrorLevel)
	crypto := cryptocap.NewSoftwareProvider()
	store := graph.New(logger, crypto.Hash)
	rightsEngine := rights.New(store, crypto)
	evaluator := chain.New(store, crypto, rightsEngine)
	rightsEngine.SetTruster(evaluator)

	substrate, err := persist.OpenBoltSubstrate(filepath.Join(t.TempDir(), "trust.db"))
	require.NoError(t, err)
	persisted := persist.New(substrate, crypto, logger)

	roots := staticRoots{}
	cfg := Config{
		Store:     store,
		Evaluator: evaluator,
		Rights:    rightsEngine,
		Certops:   certops.New(crypto, store, func() uint64 { return 7 }),
		Persist:   persisted,
		Roots:     roots,
		Logger:    logger,
	}
	if overrides != nil {
		overrides(&cfg)
	}

	node := New(cfg)
	node.Start()
	t.Cleanup(func() { _ = node.Stop(context.Background()) })

	return &testFixture{node: node, store: store, crypto: crypto, roots: roots}
}

// seedRootPerson admits a profile giving person a root key and registers
// the key in the fixture's root set.
func (f *testFixture) seedRootPerson(t *testing.T, person identity.PersonID) identity.KeyID {
	t.Helper()

	keyID, err := f.crypto.GenerateKeypair(context.Background())
	require.NoError(t, err)

	profile, err := identity.NewProfile("", person, person, []identity.KeyID{keyID}, nil, 1, f.crypto.Hash)
	require.NoError(t, err)
	require.NoError(t, f.node.AdmitProfile(&profile))

	f.roots[keyID] = struct{}{}
	return keyID
}

func TestAdmissionIsObservedBySubsequentQuery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rootKey := f.seedRootPerson(t, "root-person")

	endorsedKey, err := f.crypto.GenerateKeypair(ctx)
	require.NoError(t, err)
	profile, err := identity.NewProfile("", "alice", "alice", []identity.KeyID{endorsedKey}, nil, 2, f.crypto.Hash)
	require.NoError(t, err)
	require.NoError(t, f.node.AdmitProfile(&profile))

	require.False(t, f.node.IsKeyTrusted(ctx, endorsedKey, rootset.All).Trusted)

	payload, err := identity.EncodeTrustKeysPayload(identity.TrustKeysPayload{
		SignerPersonID: "root-person",
		EndorsedKeyID:  endorsedKey,
	})
	require.NoError(t, err)

	cert, err := f.node.Certify(ctx, identity.TrustKeys, payload, rootKey)
	require.NoError(t, err)
	require.NotNil(t, cert)

	verdict := f.node.IsKeyTrusted(ctx, endorsedKey, rootset.All)
	assert.True(t, verdict.Trusted)
	assert.Equal(t, cert.CertID, verdict.EndorsingCert)
}

func TestAdmitCertificateRejectsMalformed(t *testing.T) {
	f := newFixture(t, nil)

	err := f.node.AdmitCertificate(&identity.Certificate{CertID: "broken", Kind: identity.CertKind(9)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedCertificate))
}

func TestAdmissionRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.AdmitPerSec = 0.001
		cfg.AdmitBurst = 1
	})

	first := f.node.AdmitCertificate(&identity.Certificate{CertID: "x", Kind: identity.CertKind(9)})
	assert.True(t, errors.Is(first, errors.ErrMalformedCertificate), "first admission reaches the store")

	second := f.node.AdmitCertificate(&identity.Certificate{CertID: "y", Kind: identity.CertKind(9)})
	assert.True(t, errors.Is(second, errors.ErrUnavailable), "burst exhausted, limiter rejects before the mailbox")
}

func TestConcurrentSubmissionsAllComplete(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.AdmitPerSec = 10000
		cfg.AdmitBurst = 10000
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.node.IsKeyTrusted(ctx, "some-key", rootset.All)
			f.node.RightsOf(ctx, "some-person", rootset.All)
		}()
	}
	wg.Wait()
}

func TestStopPersistsState(t *testing.T) {
	logger := log.NewBasicLogger(log.ErrorLevel)
	crypto := cryptocap.NewSoftwareProvider()
	dir := t.TempDir()

	substrate, err := persist.OpenBoltSubstrate(filepath.Join(dir, "trust.db"))
	require.NoError(t, err)
	persisted := persist.New(substrate, crypto, logger)

	store := graph.New(logger, crypto.Hash)
	rightsEngine := rights.New(store, crypto)
	evaluator := chain.New(store, crypto, rightsEngine)
	rightsEngine.SetTruster(evaluator)

	node := New(Config{
		Store:     store,
		Evaluator: evaluator,
		Rights:    rightsEngine,
		Certops:   certops.New(crypto, store, func() uint64 { return 7 }),
		Persist:   persisted,
		Roots:     staticRoots{},
		Logger:    logger,
	})
	node.Start()

	profile, err := identity.NewProfile("p1", "alice", "alice", []identity.KeyID{"key-1"}, nil, 1, crypto.Hash)
	require.NoError(t, err)
	require.NoError(t, node.AdmitProfile(&profile))

	require.NoError(t, node.Stop(context.Background()))

	// A fresh graph loaded from the same substrate sees the profile.
	reloaded := graph.New(logger, crypto.Hash)
	result, err := persist.New(substrate, crypto, logger).Load(reloaded)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProfilesLoaded)
	assert.ElementsMatch(t, []identity.KeyID{"key-1"}, reloaded.KeysOf("alice"))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.node.Stop(context.Background()))
	require.NoError(t, f.node.Stop(context.Background()))
}
