// Package rights implements the Rights Engine: deriving each person's
// endorsement capability bits by evaluating endorsement-authority
// certificates against the Chain Evaluator's trust verdicts.
package rights

import (
	"context"

	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/identity"
)

// KeyTruster is the subset of the Chain Evaluator the Rights Engine
// depends on. Expressed as an interface, not a direct import of pkg/chain,
// because the Chain Evaluator itself depends on the Rights Engine to decide
// endorsement eligibility — the two
// components are mutually recursive, and the interface is what lets Go
// express that without an import cycle. The concrete *chain.Evaluator is
// wired in once, at startup, via SetTruster.
type KeyTruster interface {
	IsKeyTrusted(ctx context.Context, keyID identity.KeyID, rootSet map[identity.KeyID]struct{}) identity.KeyTrustInfo
}

// Engine derives PersonRights by reading the store without mutating it; it
// is re-entrant-safe by construction.
type Engine struct {
	store   *graph.Store
	crypto  cryptocap.Provider
	truster KeyTruster
}

// New creates a Rights Engine over store, verifying authority certificate
// signatures through crypto. SetTruster must be called before RightsOf is
// used.
func New(store *graph.Store, crypto cryptocap.Provider) *Engine {
	return &Engine{store: store, crypto: crypto}
}

// SetTruster wires the Chain Evaluator in after both have been constructed,
// resolving the mutual dependency between the two components.
func (e *Engine) SetTruster(t KeyTruster) {
	e.truster = t
}

// RightsOf derives the two capability bits for person.
func (e *Engine) RightsOf(ctx context.Context, person identity.PersonID, rootSet map[identity.KeyID]struct{}) identity.PersonRights {
	if e.ownsRootKey(person, rootSet) {
		return identity.PersonRights{PersonID: person, MayEndorseForEverybody: true, MayEndorseForSelf: true}
	}

	return identity.PersonRights{
		PersonID:               person,
		MayEndorseForEverybody: e.hasGrantedRight(ctx, person, identity.RightToDeclareTrustedKeysForEverybody, rootSet),
		MayEndorseForSelf:      e.hasGrantedRight(ctx, person, identity.RightToDeclareTrustedKeysForSelf, rootSet),
	}
}

// AllRights derives PersonRights for every person whose admitted profiles
// declare at least one key, the bulk form the actor persists on Save and Stop.
func (e *Engine) AllRights(ctx context.Context, rootSet map[identity.KeyID]struct{}) map[identity.PersonID]identity.PersonRights {
	out := make(map[identity.PersonID]identity.PersonRights)
	for _, p := range e.store.AllPersons() {
		out[p] = e.RightsOf(ctx, p, rootSet)
	}
	return out
}

func (e *Engine) ownsRootKey(person identity.PersonID, rootSet map[identity.KeyID]struct{}) bool {
	for _, k := range e.store.KeysOf(person) {
		if _, isRoot := rootSet[k]; isRoot {
			return true
		}
	}
	return false
}

// hasGrantedRight reports whether some valid admitted certificate of kind
// grants person the right, signed by a person q with some trusted key. The
// payload's grantor is only a claim: the certificate's signature must
// verify under one of the grantor's keys before that key's trust counts —
// admission never checks signatures, so this is where a forged grant dies.
func (e *Engine) hasGrantedRight(ctx context.Context, person identity.PersonID, kind identity.CertKind, rootSet map[identity.KeyID]struct{}) bool {
	for _, cert := range e.store.AuthorityCertificatesOf(kind) {
		payload, ok := identity.DecodeAuthorityPayload(cert.Payload)
		if !ok || payload.GranteePersonID != person {
			continue
		}

		if e.truster == nil {
			continue
		}

		for _, signerKey := range e.store.KeysOf(payload.GrantorPersonID) {
			if !e.signatureVerifies(ctx, signerKey, cert) {
				continue
			}
			if e.truster.IsKeyTrusted(ctx, signerKey, rootSet).Trusted {
				return true
			}
		}
	}
	return false
}

func (e *Engine) signatureVerifies(ctx context.Context, signerKey identity.KeyID, cert *identity.Certificate) bool {
	ok, err := e.crypto.Verify(ctx, signerKey, cert.Payload, cert.Signature)
	if err != nil {
		return false
	}
	return ok
}
