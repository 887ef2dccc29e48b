// Package chain implements the Chain Evaluator: a memoized depth-first
// traversal deciding whether a key is transitively endorsed by a root, with
// cycle detection on the recursion stack and an LRU verdict cache.
package chain

import (
	"context"

	"github.com/juergengeck/esp32/pkg/cache"
	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/metrics"
	"github.com/juergengeck/esp32/pkg/rights"
)

const defaultCacheSize = 4096

// Evaluator decides is_key_trusted(key_id) via memoized DFS over the Trust
// Graph Store, consulting the current root set and the Rights Engine to
// decide which TrustKeys certificates are eligible evidence.
type Evaluator struct {
	store  *graph.Store
	crypto cryptocap.Provider
	rights *rights.Engine

	cache      *cache.LRUCache[identity.KeyID, identity.KeyTrustInfo]
	cachedAsOf uint64

	// inFlight tracks keys whose top-level evaluation has entered but not
	// yet returned. The Rights Engine calls back into IsKeyTrusted while a
	// traversal is running; a grant whose own validity circles back to the
	// key under evaluation is circular evidence and is broken here the same
	// way an in-traversal cycle is. The actor serializes all entry points,
	// so a plain map suffices.
	inFlight map[identity.KeyID]struct{}

	metrics *metrics.Registry
}

// SetMetrics attaches a metrics registry the evaluator reports cache
// hit/miss and chain-depth observations to. Optional; a nil registry
// (the default) disables reporting.
func (e *Evaluator) SetMetrics(reg *metrics.Registry) {
	e.metrics = reg
}

// New creates an Evaluator backed by store, crypto, and rightsEngine.
func New(store *graph.Store, crypto cryptocap.Provider, rightsEngine *rights.Engine) *Evaluator {
	return &Evaluator{
		store:    store,
		crypto:   crypto,
		rights:   rightsEngine,
		cache:    cache.NewLRUCache[identity.KeyID, identity.KeyTrustInfo](defaultCacheSize),
		inFlight: make(map[identity.KeyID]struct{}),
	}
}

// InvalidateCaches clears keys_trust_cache. Required after any certificate
// or profile admission, and whenever the root set changes.
func (e *Evaluator) InvalidateCaches() {
	e.cache.Clear()
}

// syncWithStore drops the verdict cache if the store has admitted anything
// since the cache was last populated, so no verdict ever reflects less than
// the full set of admitted evidence even when a caller forgets to call
// InvalidateCaches.
func (e *Evaluator) syncWithStore() {
	current := e.store.InvalidationCount()
	if current != e.cachedAsOf {
		e.cache.Clear()
		e.cachedAsOf = current
	}
}

// IsKeyTrusted computes, or returns the cached, verdict for keyID against
// the given root set.
func (e *Evaluator) IsKeyTrusted(ctx context.Context, keyID identity.KeyID, rootSet map[identity.KeyID]struct{}) identity.KeyTrustInfo {
	e.syncWithStore()

	if v, ok := e.cache.Get(keyID); ok {
		if e.metrics != nil {
			e.metrics.RecordVerdictCacheHit()
		}
		return v
	}
	if e.metrics != nil {
		e.metrics.RecordVerdictCacheMiss()
	}

	if _, reentrant := e.inFlight[keyID]; reentrant {
		// Not cached: the verdict depends on an evaluation still running.
		return identity.KeyTrustInfo{KeyID: keyID, Trusted: false, Reason: identity.ReasonCycleBroken, Path: []identity.CertID{}}
	}
	e.inFlight[keyID] = struct{}{}
	defer delete(e.inFlight, keyID)

	visiting := map[identity.KeyID]struct{}{keyID: {}}
	verdict := e.evaluate(ctx, keyID, rootSet, visiting)
	e.cache.Put(keyID, verdict)
	if e.metrics != nil {
		e.metrics.ObserveChainDepth(len(verdict.Path))
	}
	return verdict
}

// evaluate runs the depth-first traversal. visiting is the current
// recursion stack; it is mutated by the caller around recursive calls,
// never copied, so cycle detection sees the live traversal path.
func (e *Evaluator) evaluate(ctx context.Context, keyID identity.KeyID, rootSet map[identity.KeyID]struct{}, visiting map[identity.KeyID]struct{}) identity.KeyTrustInfo {
	if _, isRoot := rootSet[keyID]; isRoot {
		return identity.KeyTrustInfo{KeyID: keyID, Trusted: true, Reason: identity.ReasonRoot, Path: []identity.CertID{}}
	}

	candidates := e.store.CertificatesFor(keyID, identity.TrustKeys)

	for _, cert := range candidates {
		if !e.certValid(cert) {
			continue
		}

		payload, ok := identity.DecodeTrustKeysPayload(cert.Payload)
		if !ok {
			continue
		}

		signerKeys := e.store.KeysOf(payload.SignerPersonID)
		for _, signerKey := range signerKeys {
			if !e.signatureVerifies(ctx, signerKey, cert) {
				continue
			}

			if !e.endorsementEligible(ctx, payload.SignerPersonID, keyID, rootSet) {
				// Signer lacks may_endorse_for_* rights to endorse this
				// key; this certificate never contributes to keyID's
				// trust regardless of whether signerKey is itself trusted.
				continue
			}

			if _, alreadyVisiting := visiting[signerKey]; alreadyVisiting {
				// Cycle: this branch is opaque — it never produces trust
				// through itself, but does not poison other branches.
				continue
			}

			visiting[signerKey] = struct{}{}
			recursive := e.evaluateCached(ctx, signerKey, rootSet, visiting)
			delete(visiting, signerKey)

			if recursive.Trusted {
				path := append([]identity.CertID{cert.CertID}, recursive.Path...)
				return identity.KeyTrustInfo{
					KeyID:         keyID,
					Trusted:       true,
					Reason:        identity.ReasonEndorsedBy,
					EndorsingCert: cert.CertID,
					Path:          path,
				}
			}
		}
	}

	return identity.KeyTrustInfo{KeyID: keyID, Trusted: false, Reason: identity.ReasonNoPath, Path: []identity.CertID{}}
}

// evaluateCached checks the cache before recursing, so repeated signer keys
// across sibling branches are computed once per traversal entry.
func (e *Evaluator) evaluateCached(ctx context.Context, keyID identity.KeyID, rootSet map[identity.KeyID]struct{}, visiting map[identity.KeyID]struct{}) identity.KeyTrustInfo {
	if v, ok := e.cache.Get(keyID); ok {
		return v
	}
	verdict := e.evaluate(ctx, keyID, rootSet, visiting)
	e.cache.Put(keyID, verdict)
	return verdict
}

// endorsementEligible applies the rights rule to a candidate endorsement:
// a TrustKeys certificate signed by a person without the everybody right is
// valid only for endorsing the signer's own keys.
func (e *Evaluator) endorsementEligible(ctx context.Context, signer identity.PersonID, endorsedKey identity.KeyID, rootSet map[identity.KeyID]struct{}) bool {
	signerOwnsEndorsedKey := false
	for _, k := range e.store.KeysOf(signer) {
		if k == endorsedKey {
			signerOwnsEndorsedKey = true
			break
		}
	}

	personRights := e.rights.RightsOf(ctx, signer, rootSet)
	if personRights.MayEndorseForEverybody {
		return true
	}
	return personRights.MayEndorseForSelf && signerOwnsEndorsedKey
}

func (e *Evaluator) signatureVerifies(ctx context.Context, candidateKey identity.KeyID, cert *identity.Certificate) bool {
	ok, err := e.crypto.Verify(ctx, candidateKey, cert.Payload, cert.Signature)
	if err != nil {
		return false
	}
	return ok
}

// certValid re-runs the hash and well-formedness checks at traversal time,
// independent of whatever admission checked: the evaluator never trusts a
// stored record's own claims about itself.
func (e *Evaluator) certValid(cert *identity.Certificate) bool {
	if cert == nil || !cert.Kind.Valid() {
		return false
	}
	if e.crypto.Hash(cert.Payload) != cert.PayloadHash {
		return false
	}
	if e.crypto.Hash(cert.Signature) != cert.SignatureHash {
		return false
	}
	return true
}
