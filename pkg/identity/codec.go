package identity

import "encoding/json"

// DecodeTrustKeysPayload parses a TrustKeys certificate's payload. Returns
// false if the payload does not decode as the expected schema — the caller
// treats this as a structurally invalid certificate, never a panic.
func DecodeTrustKeysPayload(payload []byte) (TrustKeysPayload, bool) {
	var p TrustKeysPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return TrustKeysPayload{}, false
	}
	if p.SignerPersonID == "" || p.EndorsedKeyID == "" {
		return TrustKeysPayload{}, false
	}
	return p, true
}

// EncodeTrustKeysPayload serializes a TrustKeysPayload to its wire form.
func EncodeTrustKeysPayload(p TrustKeysPayload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeAuthorityPayload parses an endorsement-authority certificate's
// payload (RightToDeclareTrustedKeysForEverybody/Self).
func DecodeAuthorityPayload(payload []byte) (AuthorityPayload, bool) {
	var p AuthorityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return AuthorityPayload{}, false
	}
	if p.GrantorPersonID == "" || p.GranteePersonID == "" {
		return AuthorityPayload{}, false
	}
	return p, true
}

// EncodeAuthorityPayload serializes an AuthorityPayload to its wire form.
func EncodeAuthorityPayload(p AuthorityPayload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayloadForKind decodes payload according to kind, returning ok=false
// if it does not parse as the schema the kind requires. Dispatch on Kind is
// exhaustive, per the closed tagged-variant design.
func DecodePayloadForKind(kind CertKind, payload []byte) bool {
	switch kind {
	case TrustKeys:
		_, ok := DecodeTrustKeysPayload(payload)
		return ok
	case RightToDeclareTrustedKeysForEverybody, RightToDeclareTrustedKeysForSelf:
		_, ok := DecodeAuthorityPayload(payload)
		return ok
	case Affirmation:
		return true
	default:
		return false
	}
}
