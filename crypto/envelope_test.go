package crypto_test

import (
	"testing"

	"github.com/layer-3/walletlink/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenSymmetric(t *testing.T) {
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	data, err := crypto.Seal(key, nil, []byte(`{"id":1}`))
	require.NoError(t, err)

	sealed, err := crypto.ParseEnvelope(data)
	require.NoError(t, err)
	assert.Nil(t, sealed.SenderPublicKey)

	plaintext, err := sealed.Open(key)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(plaintext))
}

func TestSealOpenSenderKey(t *testing.T) {
	sender, _ := crypto.GenerateKeyPair()
	receiver, _ := crypto.GenerateKeyPair()

	secret, err := crypto.Agree(sender.Private, receiver.Public)
	require.NoError(t, err)

	data, err := crypto.Seal(secret.SymmetricKey(), &sender.Public, []byte("hello"))
	require.NoError(t, err)

	sealed, err := crypto.ParseEnvelope(data)
	require.NoError(t, err)
	require.NotNil(t, sealed.SenderPublicKey)
	assert.Equal(t, sender.Public, *sealed.SenderPublicKey)

	// The receiver only knows its own private key and the sender key from the envelope
	derived, err := crypto.Agree(receiver.Private, *sealed.SenderPublicKey)
	require.NoError(t, err)

	plaintext, err := sealed.Open(derived.SymmetricKey())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plaintext))
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	key, _ := crypto.NewSymmetricKey()
	other, _ := crypto.NewSymmetricKey()

	data, err := crypto.Seal(key, nil, []byte("secret"))
	require.NoError(t, err)

	sealed, err := crypto.ParseEnvelope(data)
	require.NoError(t, err)

	_, err = sealed.Open(other)
	assert.ErrorIs(t, err, crypto.ErrDecrypt)
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := crypto.ParseEnvelope(nil)
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)

	_, err = crypto.ParseEnvelope([]byte{7, 1, 2, 3})
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)

	_, err = crypto.ParseEnvelope([]byte{1, 2, 3})
	assert.ErrorIs(t, err, crypto.ErrMalformedEnvelope)
}
