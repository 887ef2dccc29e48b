// Package graph implements the Trust Graph Store: the mutable authoritative
// state of certificates and profiles, the indices that make lookups O(1),
// and the admission checks that keep adversarial records out of both.
package graph

import (
	"sync"
	"sync/atomic"

	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
)

// Metrics tracks store-local admission activity.
type Metrics struct {
	CertificatesAdmitted atomic.Uint64
	ProfilesAdmitted     atomic.Uint64
	AdmissionRejected    atomic.Uint64
	CacheInvalidations   atomic.Uint64
}

// Store owns the certificate set, the profile set, and the indices derived
// from them. Every index is recomputable from the certificate and profile
// sets alone, so loss of an index is never a durability concern.
type Store struct {
	mu sync.RWMutex

	certificates map[identity.CertID]*identity.Certificate
	profiles     map[identity.ProfileID]*identity.Profile

	// certsByKeyKind indexes TrustKeys certificates by the key they
	// endorse, so certificates_for(key_id, TrustKeys) is O(1). Authority
	// certificates are not indexed here; AuthorityCertificatesOf scans the
	// certificate set. Within a bucket, certificates are kept in admission
	// order.
	certsByKeyKind map[keyKindIndex][]identity.CertID

	// keysOfPerson is the union of profile.Keys across every admitted
	// profile with a given PersonID.
	keysOfPerson map[identity.PersonID]map[identity.KeyID]struct{}

	// currentProfile tracks the admitted profile per ProfileID so that
	// timestamp-monotone supersession can be enforced in O(1).
	currentProfile map[identity.ProfileID]*identity.Profile

	hasher  Hasher
	logger  log.Logger
	metrics *Metrics
}

type keyKindIndex struct {
	keyID identity.KeyID
	kind  identity.CertKind
}

// Hasher computes the content hash admission checks certificates against.
// Supplied by the crypto capability; the store never imports crypto itself.
type Hasher func([]byte) identity.Hash32

// New creates an empty Trust Graph Store. hasher is required: admission
// re-derives every certificate's payload and signature hash through it.
func New(logger log.Logger, hasher Hasher) *Store {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}

	return &Store{
		hasher:         hasher,
		certificates:   make(map[identity.CertID]*identity.Certificate),
		profiles:       make(map[identity.ProfileID]*identity.Profile),
		certsByKeyKind: make(map[keyKindIndex][]identity.CertID),
		keysOfPerson:   make(map[identity.PersonID]map[identity.KeyID]struct{}),
		currentProfile: make(map[identity.ProfileID]*identity.Profile),
		logger:         logger,
		metrics:        &Metrics{},
	}
}

// Metrics exposes the store's admission counters.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// AdmitCertificate validates structure and inserts cert into the store.
// Idempotent on CertID: re-admitting an already-present certificate is a
// no-op success.
func (s *Store) AdmitCertificate(cert *identity.Certificate) error {
	stored, err := s.validateCertificateStructure(cert)
	if err != nil {
		s.metrics.AdmissionRejected.Add(1)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certificates[stored.CertID]; exists {
		return nil
	}

	s.certificates[stored.CertID] = stored

	if stored.Kind == identity.TrustKeys {
		idx := keyKindIndex{keyID: stored.EndorsedKeyID, kind: identity.TrustKeys}
		s.certsByKeyKind[idx] = append(s.certsByKeyKind[idx], stored.CertID)
	}

	s.metrics.CertificatesAdmitted.Add(1)
	s.logger.WithFields(map[string]interface{}{
		"cert_id": string(cert.CertID),
		"kind":    cert.Kind.String(),
	}).Debug("certificate admitted")

	s.invalidateCachesLocked()
	return nil
}

// AdmitProfile enforces timestamp-monotone supersession per ProfileID.
func (s *Store) AdmitProfile(profile *identity.Profile) error {
	if profile == nil || profile.ProfileID == "" {
		return errors.MalformedCertificatef("profile missing profile_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	supersededPerson := identity.PersonID("")
	if current, exists := s.currentProfile[profile.ProfileID]; exists {
		if profile.Timestamp < current.Timestamp {
			s.metrics.AdmissionRejected.Add(1)
			return errors.StaleProfilef("profile %s has timestamp %d, current is %d",
				profile.ProfileID, profile.Timestamp, current.Timestamp)
		}
		if profile.Timestamp == current.Timestamp {
			// Identical re-admission: no-op per the round-trip idempotence
			// property.
			return nil
		}
		supersededPerson = current.PersonID
	}

	stored := *profile
	s.currentProfile[profile.ProfileID] = &stored
	s.profiles[profile.ProfileID] = &stored
	s.rebuildKeysOfPersonLocked(stored.PersonID)
	if supersededPerson != "" && supersededPerson != stored.PersonID {
		s.rebuildKeysOfPersonLocked(supersededPerson)
	}

	s.metrics.ProfilesAdmitted.Add(1)
	s.logger.WithFields(map[string]interface{}{
		"profile_id": string(profile.ProfileID),
		"person_id":  string(profile.PersonID),
	}).Debug("profile admitted")

	s.invalidateCachesLocked()
	return nil
}

// rebuildKeysOfPersonLocked recomputes keys_of(person) from scratch across
// the current profile set: supersession may retract keys, and another
// profile for the same person may still assert the same key.
func (s *Store) rebuildKeysOfPersonLocked(person identity.PersonID) {
	set := make(map[identity.KeyID]struct{})
	for _, p := range s.profiles {
		if p.PersonID != person {
			continue
		}
		for _, k := range p.Keys {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		delete(s.keysOfPerson, person)
		return
	}
	s.keysOfPerson[person] = set
}

// KeysOf returns the set of keys owned by person, O(1) via index.
func (s *Store) KeysOf(person identity.PersonID) []identity.KeyID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.keysOfPerson[person]
	keys := make([]identity.KeyID, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// CertificatesFor returns the certificates of kind endorsing keyID, ordered
// by admission order (the index preserves append order; ties are already
// broken by that order, never by map iteration).
func (s *Store) CertificatesFor(keyID identity.KeyID, kind identity.CertKind) []*identity.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.certsByKeyKind[keyKindIndex{keyID: keyID, kind: kind}]
	out := make([]*identity.Certificate, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.certificates[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AuthorityCertificatesOf returns every admitted certificate of the given
// authority kind, ordered by certificate Timestamp with ties broken by
// CertID, regardless of endorsed key (authority certificates have no
// EndorsedKeyID).
func (s *Store) AuthorityCertificatesOf(kind identity.CertKind) []*identity.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*identity.Certificate, 0)
	for _, id := range s.admissionOrderLocked() {
		c := s.certificates[id]
		if c != nil && c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// admissionOrderLocked returns cert IDs in stable order: by Timestamp, then
// lexicographically by CertID.
func (s *Store) admissionOrderLocked() []identity.CertID {
	ids := make([]identity.CertID, 0, len(s.certificates))
	for id := range s.certificates {
		ids = append(ids, id)
	}
	sortCertIDsByTimestamp(ids, s.certificates)
	return ids
}

// Certificate looks up a single certificate by ID.
func (s *Store) Certificate(id identity.CertID) (*identity.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certificates[id]
	return c, ok
}

// Profile looks up the current admitted profile by ID.
func (s *Store) Profile(id identity.ProfileID) (*identity.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// AllCertificates returns every admitted certificate, for persistence.
func (s *Store) AllCertificates() []*identity.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*identity.Certificate, 0, len(s.certificates))
	for _, c := range s.certificates {
		out = append(out, c)
	}
	return out
}

// AllProfiles returns every admitted profile, for persistence.
func (s *Store) AllProfiles() []*identity.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*identity.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out
}

// AllPersons returns every person whose admitted profiles declare at least
// one key.
func (s *Store) AllPersons() []identity.PersonID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.PersonID, 0, len(s.keysOfPerson))
	for p := range s.keysOfPerson {
		out = append(out, p)
	}
	return out
}

// invalidateCachesLocked is the store-side half of invalidate_caches(): it
// only records that derived caches elsewhere (chain.Evaluator, rights.Engine)
// must be rebuilt. The Store holds no cache of its own to clear.
func (s *Store) invalidateCachesLocked() {
	s.metrics.CacheInvalidations.Add(1)
}

// InvalidationCount reports how many admissions have occurred, for cache
// owners elsewhere to detect staleness without a callback registry.
func (s *Store) InvalidationCount() uint64 {
	return s.metrics.CacheInvalidations.Load()
}

// validateCertificateStructure checks the admission invariants (hashes
// match, kind decodable, payload parsable for the kind) and returns the
// store's own copy of cert with the TrustKeys back-link extracted from the
// payload — peers never get to assert the back-link themselves.
func (s *Store) validateCertificateStructure(cert *identity.Certificate) (*identity.Certificate, error) {
	if cert == nil {
		return nil, errors.MalformedCertificatef("nil certificate")
	}
	if cert.CertID == "" {
		return nil, errors.MalformedCertificatef("certificate missing cert_id")
	}
	if !cert.Kind.Valid() {
		return nil, errors.MalformedCertificatef("certificate %s has unknown kind %d", cert.CertID, cert.Kind)
	}
	if s.hasher != nil {
		if s.hasher(cert.Payload) != cert.PayloadHash {
			return nil, errors.HashMismatchf("certificate %s payload_hash does not match payload", cert.CertID)
		}
		if s.hasher(cert.Signature) != cert.SignatureHash {
			return nil, errors.HashMismatchf("certificate %s signature_hash does not match signature", cert.CertID)
		}
	}
	if cert.PayloadHash.IsZero() {
		return nil, errors.HashMismatchf("certificate %s has zero payload_hash", cert.CertID)
	}
	if cert.SignatureHash.IsZero() {
		return nil, errors.HashMismatchf("certificate %s has zero signature_hash", cert.CertID)
	}
	if !identity.DecodePayloadForKind(cert.Kind, cert.Payload) {
		return nil, errors.MalformedCertificatef("certificate %s payload does not decode as kind %s", cert.CertID, cert.Kind.String())
	}

	stored := *cert
	if cert.Kind == identity.TrustKeys {
		payload, _ := identity.DecodeTrustKeysPayload(cert.Payload)
		if cert.EndorsedKeyID != "" && cert.EndorsedKeyID != payload.EndorsedKeyID {
			return nil, errors.MalformedCertificatef("certificate %s back-link %s contradicts payload endorsed key %s",
				cert.CertID, cert.EndorsedKeyID, payload.EndorsedKeyID)
		}
		stored.EndorsedKeyID = payload.EndorsedKeyID
	}
	return &stored, nil
}
