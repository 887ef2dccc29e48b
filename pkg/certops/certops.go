// Package certops implements certificate operations: local issuance,
// structural validation, and the is-certified-by query, as a small
// stateless operations object over the crypto capability and a read-only
// view of the store.
package certops

import (
	"context"

	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/identity"
)

// Clock supplies the wall-clock timestamp for locally issued certificates.
// Abstracted so tests can issue deterministic certificates.
type Clock func() uint64

// Operations implements certify/validate_certificate/is_certified_by over a
// crypto capability and a read-only view of the store.
type Operations struct {
	crypto cryptocap.Provider
	store  *graph.Store
	now    Clock
}

// New creates an Operations instance. now is typically time.Now().Unix cast
// to uint64; tests supply a fixed clock.
func New(crypto cryptocap.Provider, store *graph.Store, now Clock) *Operations {
	return &Operations{crypto: crypto, store: store, now: now}
}

// Certify issues a new certificate of kind over payload, signed by
// signerKey. Local issuance never populates EndorsedKeyID from a peer's
// claim — it is always derived here, from the payload itself, for TrustKeys
// certificates.
func (o *Operations) Certify(ctx context.Context, kind identity.CertKind, payload []byte, signerKey identity.KeyID) (*identity.Certificate, error) {
	if !kind.Valid() {
		return nil, errors.MalformedCertificatef("unknown certificate kind %d", kind)
	}
	if !identity.DecodePayloadForKind(kind, payload) {
		return nil, errors.MalformedCertificatef("payload does not decode for kind %s", kind.String())
	}

	payloadHash := o.crypto.Hash(payload)

	sig, err := o.crypto.Sign(ctx, signerKey, payload)
	if err != nil {
		return nil, errors.CryptoUnavailablef("signing with key %s: %v", signerKey, err)
	}
	signatureHash := o.crypto.Hash(sig)

	cert := &identity.Certificate{
		CertID:        identity.CertIDFromHash(o.crypto.Hash(append(append([]byte{}, payload...), sig...))),
		Kind:          kind,
		Payload:       payload,
		Signature:     sig,
		PayloadHash:   payloadHash,
		SignatureHash: signatureHash,
		Timestamp:     o.now(),
		Trusted:       true,
	}

	if kind == identity.TrustKeys {
		if tk, ok := identity.DecodeTrustKeysPayload(payload); ok {
			cert.EndorsedKeyID = tk.EndorsedKeyID
		}
	}

	return cert, nil
}

// Validate implements validate_certificate: purely structural. It never
// verifies the signature — that is the Signature Verifier's responsibility,
// invoked by the Chain Evaluator at traversal time.
func (o *Operations) Validate(cert *identity.Certificate) bool {
	if cert == nil || cert.CertID == "" || !cert.Kind.Valid() {
		return false
	}
	if o.crypto.Hash(cert.Payload) != cert.PayloadHash {
		return false
	}
	if o.crypto.Hash(cert.Signature) != cert.SignatureHash {
		return false
	}
	if !identity.DecodePayloadForKind(cert.Kind, cert.Payload) {
		return false
	}
	if cert.Kind == identity.TrustKeys && cert.EndorsedKeyID == "" {
		return false
	}
	return true
}

// KeyTruster is the subset of the Chain Evaluator is_certified_by depends
// on, mirroring rights.KeyTruster — kept local rather than importing
// pkg/chain to avoid tying Certificate Operations to the evaluator's full
// surface for a single predicate.
type KeyTruster interface {
	IsKeyTrusted(ctx context.Context, keyID identity.KeyID, rootSet map[identity.KeyID]struct{}) identity.KeyTrustInfo
}

// IsCertifiedBy implements is_certified_by: does some certificate of kind
// naming subject as the endorsed key verify with a key of issuer that is
// itself trusted?
func (o *Operations) IsCertifiedBy(ctx context.Context, subject identity.KeyID, kind identity.CertKind, issuer identity.PersonID, truster KeyTruster, rootSet map[identity.KeyID]struct{}) bool {
	for _, cert := range o.store.CertificatesFor(subject, kind) {
		if !o.Validate(cert) {
			continue
		}

		for _, issuerKey := range o.store.KeysOf(issuer) {
			ok, err := o.crypto.Verify(ctx, issuerKey, cert.Payload, cert.Signature)
			if err != nil || !ok {
				continue
			}
			if truster.IsKeyTrusted(ctx, issuerKey, rootSet).Trusted {
				return true
			}
		}
	}
	return false
}
