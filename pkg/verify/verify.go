// Package verify implements the Signature Verifier: it routes a signed
// artifact to the set of candidate keys for its claimed signer and, on the
// first key whose signature checks out, delegates to the Chain Evaluator
// for the trust verdict.
package verify

import (
	"context"

	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/identity"
)

// Artifact is a signed payload claiming authorship by a person, the shape
// the verifier is handed by the outer PeerManager collaborator.
type Artifact struct {
	ClaimedSigner identity.PersonID
	Payload       []byte
	Signature     []byte
}

// Evaluator is the subset of the Chain Evaluator the verifier depends on.
// Kept local, mirroring rights.KeyTruster, rather than importing pkg/chain
// directly — the verifier only ever needs one query.
type Evaluator interface {
	IsKeyTrusted(ctx context.Context, keyID identity.KeyID, rootSet map[identity.KeyID]struct{}) identity.KeyTrustInfo
}

// Verifier wraps the crypto capability and the store to implement verify().
type Verifier struct {
	crypto    cryptocap.Provider
	store     *graph.Store
	evaluator Evaluator
}

// New creates a Verifier over crypto, store, and evaluator.
func New(crypto cryptocap.Provider, store *graph.Store, evaluator Evaluator) *Verifier {
	return &Verifier{crypto: crypto, store: store, evaluator: evaluator}
}

// Verify resolves the claimed signer's candidate keys, tries each against
// the artifact's signature, and on the first successful key returns the
// Chain Evaluator's verdict for it. Returns ok=false if no candidate key's
// signature verifies — the verifier never itself decides trust, only
// candidacy.
func (v *Verifier) Verify(ctx context.Context, artifact Artifact, rootSet map[identity.KeyID]struct{}) (identity.KeyTrustInfo, bool) {
	for _, candidate := range v.store.KeysOf(artifact.ClaimedSigner) {
		ok, err := v.crypto.Verify(ctx, candidate, artifact.Payload, artifact.Signature)
		if err != nil || !ok {
			continue
		}
		return v.evaluator.IsKeyTrusted(ctx, candidate, rootSet), true
	}
	return identity.KeyTrustInfo{}, false
}
