package signer_test

import (
	"context"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/walletlink/adapters/signer"
	"github.com/layer-3/walletlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthSignerSignsAndVerifies(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := signer.NewEthSigner(key)
	account := "eip155:1:" + s.Address().Hex()

	sig, err := s.Sign(context.Background(), account, "register identity")
	require.NoError(t, err)

	assert.NoError(t, signer.VerifySignature(account, "register identity", sig))
	assert.ErrorIs(t, signer.VerifySignature(account, "something else", sig), core.ErrSignatureRejected)
	assert.NoError(t, signer.EthVerifier{}.Verify(context.Background(), account, "register identity", sig))
}

func TestVerifySignatureRejectsForgeries(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := signer.NewEthSigner(key)
	account := "eip155:1:" + s.Address().Hex()
	sig, err := s.Sign(context.Background(), account, "register identity")
	require.NoError(t, err)

	tests := []struct {
		name      string
		account   string
		signature string
	}{
		{"too short", account, "0xdeadbeef"},
		{"not hex", account, "signed"},
		{"other account", "eip155:1:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", sig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := signer.VerifySignature(tc.account, "register identity", tc.signature)
			assert.ErrorIs(t, err, core.ErrSignatureRejected)
		})
	}

	err = signer.VerifySignature("cosmos:hub:abc", "register identity", sig)
	assert.ErrorIs(t, err, core.ErrInvalidAccount)
}

func TestEthSignerRejectsForeignAccount(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := signer.NewEthSigner(key)

	_, err = s.Sign(context.Background(), "eip155:1:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "msg")
	assert.ErrorIs(t, err, core.ErrSignatureRejected)
}
