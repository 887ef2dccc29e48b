// Package cryptocap wraps the crypto primitives the trust core depends on
// behind a small capability interface: the core never calls crypto/ed25519
// or crypto/sha256 directly, it calls through a Provider.
package cryptocap

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"

	"github.com/juergengeck/esp32/pkg/identity"

	"github.com/sigstore/sigstore/pkg/signature"

	"github.com/juergengeck/esp32/pkg/helper/errors"
)

// Provider is the crypto capability the trust core consumes: a collision
// resistant hash, a signer, a total verifier, key generation, and a CSPRNG.
type Provider interface {
	// Hash returns a fixed 32-byte collision-resistant digest of data.
	Hash(data []byte) identity.Hash32

	// Sign produces a signature over payload using the private key
	// identified by keyID. Implementations may be deterministic or
	// randomized; callers must not assume determinism.
	Sign(ctx context.Context, keyID identity.KeyID, payload []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature over payload under
	// the public key identified by keyID. Total: never returns an error
	// for "invalid signature", only for operational failure.
	Verify(ctx context.Context, keyID identity.KeyID, payload, sig []byte) (bool, error)

	// GenerateKeypair creates a new keypair, registers its public half
	// under the returned KeyID, and retains the private half for Sign.
	GenerateKeypair(ctx context.Context) (identity.KeyID, error)

	// Random returns n cryptographically secure random bytes.
	Random(n int) ([]byte, error)
}

// Manager is a named-provider registry: RegisterProvider/GetProvider/
// GetDefaultProvider, with fail-fast validation before taking the lock.
type Manager struct {
	providers   map[string]Provider
	defaultName string
	mu          sync.RWMutex
}

// NewManager creates a Manager with the given default provider name.
func NewManager(defaultName string) *Manager {
	return &Manager{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
	}
}

// RegisterProvider adds a provider to the manager under name.
func (m *Manager) RegisterProvider(name string, provider Provider) {
	if name == "" || provider == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = provider
}

// GetProvider returns a provider by name.
func (m *Manager) GetProvider(name string) (Provider, error) {
	if name == "" {
		return nil, errors.InvalidInputf("provider name cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	provider, ok := m.providers[name]
	if !ok {
		return nil, errors.NotFoundf("crypto provider not found: %s", name)
	}
	return provider, nil
}

// GetDefaultProvider returns the Manager's configured default provider.
func (m *Manager) GetDefaultProvider() (Provider, error) {
	if m.defaultName == "" {
		return nil, errors.InvalidInputf("no default crypto provider configured")
	}
	return m.GetProvider(m.defaultName)
}

// softwareProvider is the default Provider: Ed25519 keys held in memory,
// signed and verified through sigstore's generic signature.LoadSigner/
// LoadVerifier dispatch, so a hardware-backed provider can later slot in
// behind the same interface.
type softwareProvider struct {
	mu      sync.RWMutex
	private map[identity.KeyID]ed25519.PrivateKey
	public  map[identity.KeyID]ed25519.PublicKey
}

// NewSoftwareProvider returns the default in-memory Ed25519 Provider.
func NewSoftwareProvider() Provider {
	return &softwareProvider{
		private: make(map[identity.KeyID]ed25519.PrivateKey),
		public:  make(map[identity.KeyID]ed25519.PublicKey),
	}
}

func (p *softwareProvider) Hash(data []byte) identity.Hash32 {
	return identity.Hash32(sha256.Sum256(data))
}

func (p *softwareProvider) Sign(_ context.Context, keyID identity.KeyID, payload []byte) ([]byte, error) {
	p.mu.RLock()
	priv, ok := p.private[keyID]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.CryptoUnavailablef("no private key for %s", keyID)
	}

	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	if err != nil {
		return nil, errors.Wrap(err, "loading signer for %s", keyID)
	}

	sig, err := signer.SignMessage(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.CryptoUnavailablef("signing with %s: %v", keyID, err)
	}
	return sig, nil
}

func (p *softwareProvider) Verify(_ context.Context, keyID identity.KeyID, payload, sig []byte) (bool, error) {
	p.mu.RLock()
	pub, ok := p.public[keyID]
	p.mu.RUnlock()
	if !ok {
		// An unknown key is simply untrustable, not an operational failure.
		return false, nil
	}

	verifier, err := signature.LoadVerifier(pub, crypto.Hash(0))
	if err != nil {
		return false, errors.Wrap(err, "loading verifier for %s", keyID)
	}

	if err := verifier.VerifySignature(bytes.NewReader(sig), bytes.NewReader(payload)); err != nil {
		return false, nil
	}
	return true, nil
}

func (p *softwareProvider) GenerateKeypair(_ context.Context) (identity.KeyID, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", errors.CryptoUnavailablef("generating keypair: %v", err)
	}

	keyID := identity.KeyIDFromHash(identity.Hash32(sha256.Sum256(pub)))

	p.mu.Lock()
	p.private[keyID] = priv
	p.public[keyID] = pub
	p.mu.Unlock()

	return keyID, nil
}

func (p *softwareProvider) Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, errors.CryptoUnavailablef("reading random bytes: %v", err)
	}
	return buf, nil
}

// ImportPublicKey registers a peer's public key for verification without a
// corresponding private key, used when admitting a profile that names keys
// the local node does not own.
func (p *softwareProvider) ImportPublicKey(keyID identity.KeyID, pub ed25519.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.public[keyID] = pub
}

// AsSoftwareProvider narrows a Provider back to the concrete software
// implementation so a caller can import peer public keys.
// Returns nil if provider is not a software provider.
func AsSoftwareProvider(provider Provider) interface {
	ImportPublicKey(identity.KeyID, ed25519.PublicKey)
} {
	if guarded, ok := provider.(*guardedProvider); ok {
		provider = guarded.inner
	}
	sp, ok := provider.(*softwareProvider)
	if !ok {
		return nil
	}
	return sp
}
