package identity

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NewProfileID mints a fresh opaque profile handle. Profile identity is not
// content-addressed — the same ProfileID survives supersession — so it is a
// random handle, not a hash.
func NewProfileID() ProfileID {
	return ProfileID("profile-" + uuid.New().String())
}

// ProfileContentBytes returns the canonical byte form of p that ProfileHash
// is computed over: the profile with its own hash field zeroed, so the hash
// never covers itself.
func ProfileContentBytes(p Profile) ([]byte, error) {
	p.ProfileHash = Hash32{}
	return json.Marshal(p)
}

// NewProfile assembles a Profile, minting a ProfileID when id is empty and
// stamping ProfileHash via hash.
func NewProfile(id ProfileID, person, owner PersonID, keys []KeyID, certs []CertID, timestamp uint64, hash func([]byte) Hash32) (Profile, error) {
	if id == "" {
		id = NewProfileID()
	}
	if owner == "" {
		owner = person
	}

	p := Profile{
		ProfileID:    id,
		PersonID:     person,
		Owner:        owner,
		Timestamp:    timestamp,
		Keys:         keys,
		Certificates: certs,
	}

	content, err := ProfileContentBytes(p)
	if err != nil {
		return Profile{}, err
	}
	p.ProfileHash = hash(content)
	return p, nil
}
