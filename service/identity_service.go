package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

type inviteKey struct {
	account   string
	publicKey crypto.PublicKey
}

// IdentityService manages account identity keys and the invite keys that
// make an account reachable for invites
type IdentityService struct {
	networking ports.Networking
	kms        *KeyManagementService
	identities ports.IdentityKeyStore
	verifier   ports.SignatureVerifier
	keyServer  string
	cfg        config

	mu sync.RWMutex
	// invite keys by invite topic
	invites map[string]inviteKey
}

// NewIdentityService creates a new identity service
func NewIdentityService(
	networking ports.Networking,
	kms *KeyManagementService,
	identities ports.IdentityKeyStore,
	verifier ports.SignatureVerifier,
	keyServer string,
	opts ...Option,
) *IdentityService {
	return &IdentityService{
		networking: networking,
		kms:        kms,
		identities: identities,
		verifier:   verifier,
		keyServer:  keyServer,
		cfg:        newConfig(opts),
		invites:    make(map[string]inviteKey),
	}
}

// KeyServer returns the key server advertised in registrations and invites
func (s *IdentityService) KeyServer() string {
	return s.keyServer
}

// RegisterIdentity creates the identity key of account and has signer
// authorize it. The signature must verify against account before the key is
// kept; a rejected or forged signature discards the key and there is no retry.
func (s *IdentityService) RegisterIdentity(ctx context.Context, account string, signer ports.IdentitySigner) (string, error) {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return "", err
	}

	if existing, err := s.identities.GetIdentityKey(ctx, acc.String()); err == nil {
		return core.EncodeEd25519DID(existing.Public().(ed25519.PublicKey)), nil
	} else if !errors.Is(err, core.ErrIdentityKeyNotFound) {
		return "", err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate identity key: %w", err)
	}
	did := core.EncodeEd25519DID(pub)

	reg := core.Registration{
		Account:     acc.String(),
		IdentityKey: did,
		KeyServer:   s.keyServer,
		Nonce:       uuid.NewString(),
		IssuedAt:    s.cfg.now().Unix(),
	}
	message, err := reg.Message()
	if err != nil {
		return "", err
	}
	reg.Signature, err = signer.Sign(ctx, acc.String(), message)
	if err != nil {
		return "", rejected(err)
	}
	if err := s.verifier.Verify(ctx, acc.String(), message, reg.Signature); err != nil {
		return "", rejected(err)
	}

	if err := s.identities.SetIdentityKey(ctx, acc.String(), priv); err != nil {
		return "", fmt.Errorf("failed to store identity key: %w", err)
	}
	if err := s.identities.SetRegistration(ctx, reg); err != nil {
		_ = s.identities.DeleteIdentityKey(ctx, acc.String())
		return "", fmt.Errorf("failed to store registration: %w", err)
	}

	s.cfg.logger.Info("identity registered", watermill.LogFields{"account": acc.String(), "identity": did})
	return did, nil
}

// Registration returns the signed registration of the identity key of account
func (s *IdentityService) Registration(ctx context.Context, account string) (core.Registration, error) {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return core.Registration{}, err
	}
	return s.identities.GetRegistration(ctx, acc.String())
}

// VerifyRegistration checks that reg was signed by account and authorizes identityKey
func (s *IdentityService) VerifyRegistration(ctx context.Context, reg core.Registration, account string, identityKey ed25519.PublicKey) error {
	if err := reg.Authorizes(account, identityKey); err != nil {
		return err
	}
	message, err := reg.Message()
	if err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrInvalidRegistration)
	}
	if err := s.verifier.Verify(ctx, reg.Account, message, reg.Signature); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrInvalidRegistration)
	}
	return nil
}

func rejected(err error) error {
	if errors.Is(err, core.ErrSignatureRejected) {
		return err
	}
	return fmt.Errorf("%v: %w", err, core.ErrSignatureRejected)
}

// UnregisterIdentity removes the identity key of account
func (s *IdentityService) UnregisterIdentity(ctx context.Context, account string) error {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return err
	}
	return s.identities.DeleteIdentityKey(ctx, acc.String())
}

// IdentityKey returns the identity key of account or core.ErrIdentityKeyNotFound
func (s *IdentityService) IdentityKey(ctx context.Context, account string) (ed25519.PrivateKey, error) {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return nil, err
	}
	return s.identities.GetIdentityKey(ctx, acc.String())
}

// RegisterInvite creates the invite key of account and starts listening on
// its invite topic. The returned public key is what inviters address.
func (s *IdentityService) RegisterInvite(ctx context.Context, account string) (string, error) {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return "", err
	}
	if _, err := s.identities.GetIdentityKey(ctx, acc.String()); err != nil {
		return "", err
	}
	if pub, ok := s.inviteKeyOf(acc.String()); ok {
		return pub.Hex(), nil
	}

	pub, err := s.kms.GenerateKeyPair(ctx)
	if err != nil {
		return "", err
	}
	topic := crypto.TopicFromPublicKey(pub)
	if err := s.kms.SetPublicKey(ctx, pub, topic); err != nil {
		_ = s.kms.DeletePrivateKey(ctx, pub.Hex())
		return "", err
	}

	s.mu.Lock()
	s.invites[topic] = inviteKey{account: acc.String(), publicKey: pub}
	s.mu.Unlock()

	if err := s.networking.Subscribe(ctx, topic); err != nil {
		s.dropInvite(ctx, topic, pub)
		return "", fmt.Errorf("failed to subscribe to invite topic: %w", err)
	}

	s.cfg.logger.Info("invite key registered", watermill.LogFields{"account": acc.String(), "topic": topic})
	return pub.Hex(), nil
}

// UnregisterInvite stops accepting invites for account
func (s *IdentityService) UnregisterInvite(ctx context.Context, account string) error {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return err
	}
	pub, ok := s.inviteKeyOf(acc.String())
	if !ok {
		return core.ErrInviteKeyNotFound
	}

	topic := crypto.TopicFromPublicKey(pub)
	if err := s.networking.Unsubscribe(ctx, topic); err != nil {
		return err
	}
	s.dropInvite(ctx, topic, pub)
	return nil
}

// InviteKey returns the invite public key of account
func (s *IdentityService) InviteKey(account string) (string, error) {
	acc, err := core.ParseAccount(account)
	if err != nil {
		return "", err
	}
	pub, ok := s.inviteKeyOf(acc.String())
	if !ok {
		return "", core.ErrInviteKeyNotFound
	}
	return pub.Hex(), nil
}

// InviteAccount resolves the account owning an invite topic
func (s *IdentityService) InviteAccount(topic string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.invites[topic]
	return k.account, ok
}

func (s *IdentityService) inviteKeyOf(account string) (crypto.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.invites {
		if k.account == account {
			return k.publicKey, true
		}
	}
	return crypto.PublicKey{}, false
}

func (s *IdentityService) dropInvite(ctx context.Context, topic string, pub crypto.PublicKey) {
	s.mu.Lock()
	delete(s.invites, topic)
	s.mu.Unlock()

	if err := s.kms.DeleteSymmetricKey(ctx, topic); err != nil {
		s.cfg.logger.Error("failed to delete invite topic key", err, watermill.LogFields{"topic": topic})
	}
	if err := s.kms.DeletePrivateKey(ctx, pub.Hex()); err != nil {
		s.cfg.logger.Error("failed to delete invite key", err, watermill.LogFields{"topic": topic})
	}
}
