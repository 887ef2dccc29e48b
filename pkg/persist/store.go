package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juergengeck/esp32/pkg/cryptocap"
	"github.com/juergengeck/esp32/pkg/graph"
	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/metrics"
	"github.com/juergengeck/esp32/pkg/resilience"
)

const (
	namespaceCertificates = "certificates"
	namespaceProfiles     = "profiles"
	namespaceRights       = "rights"

	rightsSlot = "person_rights_map"
)

// State is the graph's persistence state machine: Empty -> Dirty on first
// admission -> Clean on a successful Save.
type State int

const (
	StateEmpty State = iota
	StateDirty
	StateClean
)

// record is the durable wire form of a single certificate or profile slot:
// the content hash is carried alongside the payload so Load can reject a
// slot whose stored hash no longer matches its content (CorruptSlot).
type record struct {
	Hash identity.Hash32 `json:"hash"`
	Data json.RawMessage `json:"data"`
}

// Store persists a graph.Store's certificates, profiles, and derived rights
// map to a Substrate, and reloads them on startup.
type Store struct {
	substrate Substrate
	crypto    cryptocap.Provider
	logger    log.Logger
	state     State
	metrics   *metrics.Registry
	retry     *resilience.RetryPolicy
}

// New creates a persistence Store over substrate. Slot reads and writes are
// retried on failure per pkg/resilience.DefaultRetryPolicy: a flash
// filesystem on a constrained device can fail a write transiently under
// wear-leveling or power-supply noise in a way that a second attempt
// usually clears.
func New(substrate Substrate, crypto cryptocap.Provider, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &Store{substrate: substrate, crypto: crypto, logger: logger, state: StateEmpty, retry: resilience.DefaultRetryPolicy()}
}

// SetMetrics attaches a metrics registry. Optional — a Store built without
// one simply skips recording.
func (s *Store) SetMetrics(reg *metrics.Registry) {
	s.metrics = reg
}

// State reports the store's current persistence state.
func (s *Store) State() State {
	return s.state
}

// MarkDirty records that the in-memory graph has admitted something since
// the last Save. Called by the actor after every successful admission.
func (s *Store) MarkDirty() {
	if s.state != StateDirty {
		s.state = StateDirty
	}
}

// Save writes every certificate, profile, and the rights map to durable
// slots. Each slot is an independent atomic write: a failure partway
// through leaves prior-written slots intact, and Save returns the first
// error encountered without having corrupted the substrate.
func (s *Store) Save(g *graph.Store, rights map[identity.PersonID]identity.PersonRights) error {
	certHandle, err := s.substrate.Open(namespaceCertificates)
	if err != nil {
		return errors.Wrap(err, "opening certificates namespace")
	}
	for _, cert := range g.AllCertificates() {
		if err := s.writeRecord(certHandle, string(cert.CertID), cert); err != nil {
			return err
		}
	}

	profileHandle, err := s.substrate.Open(namespaceProfiles)
	if err != nil {
		return errors.Wrap(err, "opening profiles namespace")
	}
	for _, profile := range g.AllProfiles() {
		if err := s.writeRecord(profileHandle, string(profile.ProfileID), profile); err != nil {
			return err
		}
	}

	rightsHandle, err := s.substrate.Open(namespaceRights)
	if err != nil {
		return errors.Wrap(err, "opening rights namespace")
	}
	if err := s.writeRecord(rightsHandle, rightsSlot, rights); err != nil {
		return err
	}

	s.state = StateClean
	s.logger.WithFields(map[string]interface{}{
		"certificates": len(g.AllCertificates()),
		"profiles":     len(g.AllProfiles()),
	}).Info("trust graph saved")
	return nil
}

// readSlotWithRetry reads slot, retrying transient failures but returning
// immediately (notFound=true, no retry) when the slot simply doesn't exist
// yet — the common case on a first load, not a failure to recover from.
func (s *Store) readSlotWithRetry(handle Handle, slot string) (raw []byte, notFound bool, err error) {
	err = s.retry.Retry(context.Background(), s.logger, func() error {
		data, readErr := s.substrate.Read(handle, slot)
		if readErr != nil {
			if errors.Is(readErr, ErrNotFound) {
				notFound = true
				return nil
			}
			return readErr
		}
		raw = data
		return nil
	})
	return raw, notFound, err
}

func (s *Store) writeRecord(handle Handle, slot string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "serializing slot %s", slot)
	}

	rec := record{Hash: s.crypto.Hash(data), Data: data}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "serializing record envelope for slot %s", slot)
	}

	writeErr := s.retry.Retry(context.Background(), s.logger, func() error {
		return s.substrate.Write(handle, slot, encoded)
	})
	if writeErr != nil {
		if s.metrics != nil {
			s.metrics.RecordPersistenceError("write")
		}
		return errors.StorageFullf("writing slot %s: %v", slot, writeErr)
	}
	return nil
}

// LoadResult reports what Load recovered.
type LoadResult struct {
	CertificatesLoaded int
	ProfilesLoaded     int
	Rights             map[identity.PersonID]identity.PersonRights
	CorruptSlots       int
}

// Load rebuilds g from durable storage: parses every record, re-runs the
// store-local admission invariants via g.AdmitCertificate/AdmitProfile, and
// skips any slot whose hash self-check fails, counting it as corrupt rather
// than aborting the whole load.
func (s *Store) Load(g *graph.Store) (LoadResult, error) {
	result := LoadResult{}

	certHandle, err := s.substrate.Open(namespaceCertificates)
	if err != nil {
		return result, errors.Wrap(err, "opening certificates namespace")
	}
	certSlots, err := s.substrate.Enumerate(certHandle, "")
	if err != nil {
		return result, errors.Wrap(err, "enumerating certificates")
	}
	for _, slot := range certSlots {
		var cert identity.Certificate
		ok, err := s.readRecord(certHandle, slot, &cert)
		if err != nil {
			return result, err
		}
		if !ok {
			result.CorruptSlots++
			continue
		}
		if err := g.AdmitCertificate(&cert); err != nil {
			result.CorruptSlots++
			continue
		}
		result.CertificatesLoaded++
	}

	profileHandle, err := s.substrate.Open(namespaceProfiles)
	if err != nil {
		return result, errors.Wrap(err, "opening profiles namespace")
	}
	profileSlots, err := s.substrate.Enumerate(profileHandle, "")
	if err != nil {
		return result, errors.Wrap(err, "enumerating profiles")
	}
	for _, slot := range profileSlots {
		var profile identity.Profile
		ok, err := s.readRecord(profileHandle, slot, &profile)
		if err != nil {
			return result, err
		}
		if !ok {
			result.CorruptSlots++
			continue
		}
		if err := g.AdmitProfile(&profile); err != nil {
			result.CorruptSlots++
			continue
		}
		result.ProfilesLoaded++
	}

	rightsHandle, err := s.substrate.Open(namespaceRights)
	if err != nil {
		return result, errors.Wrap(err, "opening rights namespace")
	}
	var rights map[identity.PersonID]identity.PersonRights
	ok, err := s.readRecord(rightsHandle, rightsSlot, &rights)
	if err != nil {
		return result, err
	}
	if ok {
		result.Rights = rights
	}

	s.state = StateClean
	s.logger.WithFields(map[string]interface{}{
		"certificates":  result.CertificatesLoaded,
		"profiles":      result.ProfilesLoaded,
		"corrupt_slots": result.CorruptSlots,
	}).Info("trust graph loaded")
	return result, nil
}

// readRecord reads slot and unmarshals its payload into v. Returns
// ok=false (not an error) for a missing slot, and a CorruptSlot error
// classification via ok=false when the stored hash no longer matches the
// record's content.
func (s *Store) readRecord(handle Handle, slot string, v interface{}) (bool, error) {
	raw, notFound, err := s.readSlotWithRetry(handle, slot)
	if notFound {
		return false, nil
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordPersistenceError("read")
		}
		return false, errors.IOErrorf("reading slot %s: %v", slot, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.WithField("slot", slot).Warn("skipping slot with malformed envelope")
		if s.metrics != nil {
			s.metrics.RecordCorruptSlot()
		}
		return false, nil
	}

	if s.crypto.Hash(rec.Data) != rec.Hash {
		s.logger.WithField("slot", slot).Warn(fmt.Sprintf("skipping corrupt slot %s: hash self-check failed", slot))
		if s.metrics != nil {
			s.metrics.RecordCorruptSlot()
		}
		return false, nil
	}

	if err := json.Unmarshal(rec.Data, v); err != nil {
		s.logger.WithField("slot", slot).Warn("skipping slot with malformed content")
		if s.metrics != nil {
			s.metrics.RecordCorruptSlot()
		}
		return false, nil
	}
	return true, nil
}
