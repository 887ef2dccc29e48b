package persist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juergengeck/esp32/pkg/chain"
	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/rights"
)

func testSubstrate(t *testing.T) *BoltSubstrate {
	t.Helper()
	substrate, err := OpenBoltSubstrate(filepath.Join(t.TempDir(), "trust.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = substrate.Close() })
	return substrate
}

func TestBoltSubstrateRoundTrip(t *testing.T) {
	s := testSubstrate(t)

	h, err := s.Open("certificates")
	require.NoError(t, err)

	require.NoError(t, s.Write(h, "slot-1", []byte("payload")))
	data, err := s.Read(h, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	slots, err := s.Enumerate(h, "slot")
	require.NoError(t, err)
	assert.Equal(t, []string{"slot-1"}, slots)

	require.NoError(t, s.Remove(h, "slot-1"))
	_, err = s.Read(h, "slot-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing an absent slot is a no-op.
	require.NoError(t, s.Remove(h, "slot-1"))
}

func TestBoltSubstrateNamespacesAreIsolated(t *testing.T) {
	s := testSubstrate(t)

	certs, err := s.Open("certificates")
	require.NoError(t, err)
	profiles, err := s.Open("profiles")
	require.NoError(t, err)

	require.NoError(t, s.Write(certs, "shared-name", []byte("cert")))
	_, err = s.Read(profiles, "shared-name")
	assert.ErrorIs(t, err, ErrNotFound)
}

// buildGraph populates a store with a root person, an endorsed person, and
// the endorsement connecting them, returning the root key and the endorsed
// key.
func buildGraph(t *testing.T, g *graph.Store, crypto cryptocap.Provider) (identity.KeyID, identity.KeyID) {
	t.Helper()
	ctx := context.Background()

	rootKey, err := crypto.GenerateKeypair(ctx)
	require.NoError(t, err)
	endorsedKey, err := crypto.GenerateKeypair(ctx)
	require.NoError(t, err)

	rootProfile, err := identity.NewProfile("root-profile", "root-person", "root-person", []identity.KeyID{rootKey}, nil, 1, crypto.Hash)
	require.NoError(t, err)
	require.NoError(t, g.AdmitProfile(&rootProfile))

	aliceProfile, err := identity.NewProfile("alice-profile", "alice", "alice", []identity.KeyID{endorsedKey}, nil, 2, crypto.Hash)
	require.NoError(t, err)
	require.NoError(t, g.AdmitProfile(&aliceProfile))

	payload, err := identity.EncodeTrustKeysPayload(identity.TrustKeysPayload{
		SignerPersonID: "root-person",
		EndorsedKeyID:  endorsedKey,
	})
	require.NoError(t, err)
	sig, err := crypto.Sign(ctx, rootKey, payload)
	require.NoError(t, err)

	require.NoError(t, g.AdmitCertificate(&identity.Certificate{
		CertID:        identity.CertIDFromHash(crypto.Hash(append(append([]byte{}, payload...), sig...))),
		Kind:          identity.TrustKeys,
		Payload:       payload,
		Signature:     sig,
		PayloadHash:   crypto.Hash(payload),
		SignatureHash: crypto.Hash(sig),
		Timestamp:     3,
	}))

	return rootKey, endorsedKey
}

func newEvaluator(g *graph.Store, crypto cryptocap.Provider) *chain.Evaluator {
	rightsEngine := rights.New(g, crypto)
	eval := chain.New(g, crypto, rightsEngine)
	rightsEngine.SetTruster(eval)
	return eval
}

func TestSaveAndLoadReproducesVerdicts(t *testing.T) {
	crypto := cryptocap.NewSoftwareProvider()
	logger := log.NewBasicLogger(log.ErrorLevel)
	ctx := context.Background()

	g := graph.New(logger, crypto.Hash)
	rootKey, endorsedKey := buildGraph(t, g, crypto)
	rootSet := map[identity.KeyID]struct{}{rootKey: {}}

	before := newEvaluator(g, crypto).IsKeyTrusted(ctx, endorsedKey, rootSet)
	require.True(t, before.Trusted)

	store := New(testSubstrate(t), crypto, logger)
	store.MarkDirty()
	require.Equal(t, StateDirty, store.State())
	require.NoError(t, store.Save(g, map[identity.PersonID]identity.PersonRights{
		"root-person": {PersonID: "root-person", MayEndorseForEverybody: true, MayEndorseForSelf: true},
	}))
	assert.Equal(t, StateClean, store.State())

	reloaded := graph.New(logger, crypto.Hash)
	result, err := store.Load(reloaded)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CertificatesLoaded)
	assert.Equal(t, 2, result.ProfilesLoaded)
	assert.Equal(t, 0, result.CorruptSlots)
	require.NotNil(t, result.Rights)
	assert.True(t, result.Rights["root-person"].MayEndorseForEverybody)

	after := newEvaluator(reloaded, crypto).IsKeyTrusted(ctx, endorsedKey, rootSet)
	assert.Equal(t, before.Trusted, after.Trusted)
	assert.Equal(t, before.Reason, after.Reason)
	assert.Equal(t, before.Path, after.Path)
}

func TestLoadSkipsCorruptSlot(t *testing.T) {
	crypto := cryptocap.NewSoftwareProvider()
	logger := log.NewBasicLogger(log.ErrorLevel)

	g := graph.New(logger, crypto.Hash)
	buildGraph(t, g, crypto)

	substrate := testSubstrate(t)
	store := New(substrate, crypto, logger)
	require.NoError(t, store.Save(g, nil))

	// Flip bytes in one certificate slot behind the store's back.
	h, err := substrate.Open("certificates")
	require.NoError(t, err)
	slots, err := substrate.Enumerate(h, "")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.NoError(t, substrate.Write(h, slots[0], []byte(`{"hash":"0000000000000000000000000000000000000000000000000000000000000000","data":{}}`)))

	reloaded := graph.New(logger, crypto.Hash)
	result, err := store.Load(reloaded)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CertificatesLoaded)
	assert.Equal(t, 1, result.CorruptSlots)
	assert.Equal(t, 2, result.ProfilesLoaded, "intact slots must survive a corrupt sibling")
}

func TestLoadOnEmptySubstrate(t *testing.T) {
	crypto := cryptocap.NewSoftwareProvider()
	logger := log.NewBasicLogger(log.ErrorLevel)

	store := New(testSubstrate(t), crypto, logger)
	g := graph.New(logger, crypto.Hash)

	result, err := store.Load(g)
	require.NoError(t, err)
	assert.Zero(t, result.CertificatesLoaded)
	assert.Zero(t, result.ProfilesLoaded)
	assert.Zero(t, result.CorruptSlots)
	assert.Nil(t, result.Rights)
}

func TestSaveIsIdempotentAcrossReloads(t *testing.T) {
	crypto := cryptocap.NewSoftwareProvider()
	logger := log.NewBasicLogger(log.ErrorLevel)

	g := graph.New(logger, crypto.Hash)
	buildGraph(t, g, crypto)

	store := New(testSubstrate(t), crypto, logger)
	require.NoError(t, store.Save(g, nil))
	require.NoError(t, store.Save(g, nil))

	reloaded := graph.New(logger, crypto.Hash)
	result, err := store.Load(reloaded)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CertificatesLoaded)
}
