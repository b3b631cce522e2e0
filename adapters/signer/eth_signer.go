package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// EthSigner signs identity registrations with an Ethereum key (EIP-191 personal_sign)
type EthSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewEthSigner creates a signer for the account controlled by key
func NewEthSigner(key *ecdsa.PrivateKey) *EthSigner {
	return &EthSigner{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

var _ ports.IdentitySigner = (*EthSigner)(nil)

// Address returns the address the signer controls
func (s *EthSigner) Address() common.Address {
	return s.address
}

// Sign signs message for account; accounts the key does not control are rejected
func (s *EthSigner) Sign(ctx context.Context, account string, message string) (string, error) {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return "", err
	}
	if acc.Namespace != "eip155" || common.HexToAddress(acc.Address) != s.address {
		return "", fmt.Errorf("signer does not control %s: %w", account, core.ErrSignatureRejected)
	}

	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27

	return hexutil.Encode(sig), nil
}

// EthVerifier checks EIP-191 signatures of eip155 accounts
type EthVerifier struct{}

var _ ports.SignatureVerifier = EthVerifier{}

func (EthVerifier) Verify(ctx context.Context, account string, message string, signature string) error {
	return VerifySignature(account, message, signature)
}

// VerifySignature checks an EIP-191 signature of message against the eip155 account.
// Signatures that do not recover to the account wrap core.ErrSignatureRejected.
func VerifySignature(account, message, signature string) error {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return err
	}
	if acc.Namespace != "eip155" {
		return fmt.Errorf("unsupported namespace %s: %w", acc.Namespace, core.ErrInvalidAccount)
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %v: %w", err, core.ErrSignatureRejected)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d: %w", len(sig), core.ErrSignatureRejected)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %v: %w", err, core.ErrSignatureRejected)
	}
	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(acc.Address) {
		return fmt.Errorf("signature does not match %s: %w", account, core.ErrSignatureRejected)
	}
	return nil
}
