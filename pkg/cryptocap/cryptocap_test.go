package cryptocap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	p := NewSoftwareProvider()
	ctx := context.Background()

	keyID, err := p.GenerateKeypair(ctx)
	require.NoError(t, err)

	payload := []byte("the artifact body")
	sig, err := p.Sign(ctx, keyID, payload)
	require.NoError(t, err)

	ok, err := p.Verify(ctx, keyID, payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	p := NewSoftwareProvider()
	ctx := context.Background()

	keyID, err := p.GenerateKeypair(ctx)
	require.NoError(t, err)

	payload := []byte("the artifact body")
	sig, err := p.Sign(ctx, keyID, payload)
	require.NoError(t, err)

	tampered := append([]byte{}, payload...)
	tampered[0] ^= 0xff

	ok, err := p.Verify(ctx, keyID, tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUnknownKeyIsFalseNotError(t *testing.T) {
	p := NewSoftwareProvider()

	ok, err := p.Verify(context.Background(), "no-such-key", []byte("x"), []byte("y"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignWithUnknownKeyFails(t *testing.T) {
	p := NewSoftwareProvider()

	_, err := p.Sign(context.Background(), "no-such-key", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCryptoUnavailable))
}

func TestHashIsStableAndContentSensitive(t *testing.T) {
	p := NewSoftwareProvider()

	a := p.Hash([]byte("content"))
	b := p.Hash([]byte("content"))
	c := p.Hash([]byte("content!"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
}

func TestKeyIDIsContentAddressed(t *testing.T) {
	p := NewSoftwareProvider()
	ctx := context.Background()

	keyID, err := p.GenerateKeypair(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(keyID), "sha256:")

	other, err := p.GenerateKeypair(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, keyID, other)
}

func TestRandomLengthAndVariability(t *testing.T) {
	p := NewSoftwareProvider()

	a, err := p.Random(32)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := p.Random(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGuardedProviderDelegates(t *testing.T) {
	logger := log.NewBasicLogger(log.ErrorLevel)
	p := NewGuardedProvider(NewSoftwareProvider(), logger)
	ctx := context.Background()

	keyID, err := p.GenerateKeypair(ctx)
	require.NoError(t, err)

	payload := []byte("guarded payload")
	sig, err := p.Sign(ctx, keyID, payload)
	require.NoError(t, err)

	ok, err := p.Verify(ctx, keyID, payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, NewSoftwareProvider().Hash(payload), p.Hash(payload))
}

func TestManagerRegistryLookup(t *testing.T) {
	m := NewManager("software")
	software := NewSoftwareProvider()
	m.RegisterProvider("software", software)

	got, err := m.GetProvider("software")
	require.NoError(t, err)
	assert.Equal(t, software, got)

	def, err := m.GetDefaultProvider()
	require.NoError(t, err)
	assert.Equal(t, software, def)

	_, err = m.GetProvider("enclave")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestImportPublicKeyEnablesVerification(t *testing.T) {
	local := NewSoftwareProvider()
	remote := NewSoftwareProvider()
	ctx := context.Background()

	keyID, err := remote.GenerateKeypair(ctx)
	require.NoError(t, err)

	payload := []byte("peer-signed artifact")
	sig, err := remote.Sign(ctx, keyID, payload)
	require.NoError(t, err)

	// Before the import the local provider has never seen the key.
	ok, err := local.Verify(ctx, keyID, payload, sig)
	require.NoError(t, err)
	require.False(t, ok)

	pub := remote.(*softwareProvider).public[keyID]
	AsSoftwareProvider(local).ImportPublicKey(keyID, pub)

	ok, err = local.Verify(ctx, keyID, payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}
