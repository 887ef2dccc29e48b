// Package identity defines the core entity and value types of the trust graph:
// keys, persons, profiles, certificates, and the verdicts and rights derived
// from them.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Hash32 is a fixed-size 32-byte collision-resistant hash, the wire-exact
// output of the crypto capability's Hash operation.
type Hash32 [32]byte

// String renders the hash as lowercase hex.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the zero value (never a valid content hash).
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// MarshalJSON renders the hash as a lowercase-hex JSON string, the wire
// form used for every hash field.
func (h Hash32) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h[:]))
}

// UnmarshalJSON parses a 64-character hex string into the hash.
func (h *Hash32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

// KeyID uniquely addresses a Key by its content hash, in the
// "sha256:<hex>" form produced by go-digest.
type KeyID string

// CertID uniquely addresses a Certificate by its content hash.
type CertID string

// ProfileID addresses a Profile. Unlike KeyID/CertID it is an opaque handle
// chosen at profile creation time, not a content hash, because a Profile's
// content changes across supersession while its identity does not.
type ProfileID string

// PersonID is an opaque identity handle. The core never synthesizes persons;
// it only observes person IDs asserted by profiles and certificate payloads.
type PersonID string

// IDFromHash derives a content-addressed identifier string from a Hash32,
// in the "sha256:<hex>" form used throughout the wire format.
func IDFromHash(h Hash32) string {
	return digest.NewDigestFromBytes(digest.SHA256, h[:]).String()
}

// KeyIDFromHash derives a KeyID from a key's content hash.
func KeyIDFromHash(h Hash32) KeyID {
	return KeyID(IDFromHash(h))
}

// CertIDFromHash derives a CertID from a certificate's content hash.
func CertIDFromHash(h Hash32) CertID {
	return CertID(IDFromHash(h))
}

// CertKind is a closed tagged variant over the four certificate kinds the
// core understands. Dispatch on Kind is exhaustive everywhere it appears.
type CertKind uint8

const (
	// Affirmation is a bare signed statement with no trust-graph effect of
	// its own; it exists as a wire-compatible placeholder kind.
	Affirmation CertKind = 0
	// TrustKeys declares that the signer endorses a named key as trusted.
	TrustKeys CertKind = 1
	// RightToDeclareTrustedKeysForEverybody grants its grantee the right to
	// issue TrustKeys certificates effective for any person's keys.
	RightToDeclareTrustedKeysForEverybody CertKind = 2
	// RightToDeclareTrustedKeysForSelf grants its grantee the right to issue
	// TrustKeys certificates effective only for the grantee's own keys.
	RightToDeclareTrustedKeysForSelf CertKind = 3
)

// String returns the wire name of the certificate kind.
func (k CertKind) String() string {
	switch k {
	case Affirmation:
		return "Affirmation"
	case TrustKeys:
		return "TrustKeys"
	case RightToDeclareTrustedKeysForEverybody:
		return "RightToDeclareTrustedKeysForEverybody"
	case RightToDeclareTrustedKeysForSelf:
		return "RightToDeclareTrustedKeysForSelf"
	default:
		return fmt.Sprintf("CertKind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the four closed variants.
func (k CertKind) Valid() bool {
	return k <= RightToDeclareTrustedKeysForSelf
}

// IsAuthorityKind reports whether k grants endorsement authority rather than
// making an endorsement itself.
func (k CertKind) IsAuthorityKind() bool {
	return k == RightToDeclareTrustedKeysForEverybody || k == RightToDeclareTrustedKeysForSelf
}

// TrustKeysPayload is the decoded payload of a TrustKeys certificate.
type TrustKeysPayload struct {
	SignerPersonID PersonID `json:"signer_person_id"`
	EndorsedKeyID  KeyID    `json:"endorsed_key_id"`
}

// AuthorityPayload is the decoded payload of an endorsement-authority
// certificate (RightToDeclareTrustedKeysForEverybody/Self).
//
// Expiration is parsed and carried but never consulted during trust
// evaluation — see the Open Question on certificate expiration.
type AuthorityPayload struct {
	GrantorPersonID PersonID `json:"grantor_person_id"`
	GranteePersonID PersonID `json:"grantee_person_id"`
	Expiration      *uint64  `json:"expiration,omitempty"`
}

// Certificate is an immutable admitted record. Invariant: PayloadHash ==
// H(Payload) and SignatureHash == H(Signature).
type Certificate struct {
	CertID        CertID   `json:"cert_id"`
	Kind          CertKind `json:"kind"`
	Payload       []byte   `json:"payload"`
	Signature     []byte   `json:"signature"`
	PayloadHash   Hash32   `json:"payload_hash"`
	SignatureHash Hash32   `json:"signature_hash"`
	Timestamp     uint64   `json:"timestamp"`

	// Trusted is the local admission-intent flag. It is set at issuance or
	// admission and never cleared; it is not a revocation signal and is
	// never treated as authoritative by the Chain Evaluator.
	Trusted bool `json:"trusted"`

	// EndorsedKeyID is the back-link extracted from a TrustKeys payload
	// during intake, carried alongside the opaque Payload for O(1) lookup.
	// Empty for non-TrustKeys certificates.
	EndorsedKeyID KeyID `json:"endorsed_key_id,omitempty"`
}

// Profile is a signed declaration associating a person with a set of keys
// and certificates. Profiles are immutable once admitted; updates are
// expressed by admitting a newer profile for the same ProfileID with a
// strictly greater Timestamp.
type Profile struct {
	ProfileID    ProfileID `json:"profile_id"`
	PersonID     PersonID  `json:"person_id"`
	Owner        PersonID  `json:"owner"`
	ProfileHash  Hash32    `json:"profile_hash"`
	Timestamp    uint64    `json:"timestamp"`
	Keys         []KeyID   `json:"keys"`
	Certificates []CertID  `json:"certificates"`
}

// Reason tags the provenance of a KeyTrustInfo verdict. Cycle breaks and
// missing trust paths are values here, not errors.
type Reason int

const (
	// ReasonNone is the zero value; never appears on a resolved verdict.
	ReasonNone Reason = iota
	// ReasonRoot marks a key that is a member of the current root set.
	ReasonRoot
	// ReasonEndorsedBy marks a key trusted transitively via EndorsingCert.
	ReasonEndorsedBy
	// ReasonCycleBroken marks a branch abandoned because it revisited a key
	// already on the current traversal's recursion stack.
	ReasonCycleBroken
	// ReasonNoPath marks a key for which no trusted branch was found.
	ReasonNoPath
	// ReasonInvalidCertificate marks a branch abandoned because its
	// candidate certificate failed re-validation during traversal.
	ReasonInvalidCertificate
)

func (r Reason) String() string {
	switch r {
	case ReasonRoot:
		return "Root"
	case ReasonEndorsedBy:
		return "EndorsedBy"
	case ReasonCycleBroken:
		return "CycleBroken"
	case ReasonNoPath:
		return "NoPath"
	case ReasonInvalidCertificate:
		return "InvalidCertificate"
	default:
		return "None"
	}
}

// KeyTrustInfo is the evaluator's verdict for a single key: trusted/
// untrusted, a reason tag, and the ordered endorsing path from a root to
// the key (empty if untrusted).
type KeyTrustInfo struct {
	KeyID         KeyID    `json:"key_id"`
	Trusted       bool     `json:"trusted"`
	Reason        Reason   `json:"reason"`
	EndorsingCert CertID   `json:"endorsing_cert,omitempty"`
	Path          []CertID `json:"path"`
}

// PersonRights holds the two derived capability bits for a person. Never
// hand-edited — always recomputed by the Rights Engine.
type PersonRights struct {
	PersonID               PersonID `json:"person_id"`
	MayEndorseForEverybody bool     `json:"may_endorse_for_everybody"`
	MayEndorseForSelf      bool     `json:"may_endorse_for_self"`
}
