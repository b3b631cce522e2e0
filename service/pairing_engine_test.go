package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
	"github.com/layer-3/walletlink/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingCreateStoresKeyAndSubscribes(t *testing.T) {
	ctx := context.Background()
	a := newNode(t)

	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)

	want, err := crypto.ParseSymmetricKey(uri.SymKey)
	require.NoError(t, err)
	got, err := a.keys.GetSymmetricKey(ctx, uri.Topic)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, a.net.isSubscribed(uri.Topic))

	pairing, ok, err := a.pairings.Get(ctx, uri.Topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.PairingURICreated, pairing.State)
	assert.False(t, pairing.IsActive)
	assert.Equal(t, core.DefaultRelayProtocol, uri.Relay.Protocol)
	assert.WithinDuration(t, time.Now().Add(core.TTLInactive), pairing.Expiry, 5*time.Second)
}

func TestPairingSameURIOnlyOnce(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)

	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.pairing.Pair(ctx, uri.String())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, core.ErrPairingAlreadyKnown)
	}
	assert.Equal(t, 1, succeeded)

	pairing, ok, err := b.pairings.Get(ctx, uri.Topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.PairingPaired, pairing.State)
	assert.True(t, b.net.isSubscribed(uri.Topic))
}

func TestPairingRejectsMalformedURI(t *testing.T) {
	b := newNode(t)

	for _, raw := range []string{
		"",
		"wc:short@2?relay-protocol=waku&symKey=00",
		"http://example.com",
	} {
		assert.ErrorIs(t, b.pairing.Pair(context.Background(), raw), core.ErrMalformedURI, raw)
	}
}

func TestProposeStoresKeyAndPublishesOnPairingTopic(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)
	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.pairing.Pair(ctx, uri.String()))

	id, err := b.pairing.Propose(ctx, uri.Topic, core.Permissions{Methods: []string{"eth_sign", "eth_sign", "personal_sign"}}, core.RelayOptions{})
	require.NoError(t, err)

	sent := b.net.lastRequest(t, core.MethodSessionPropose)
	assert.Equal(t, id, sent.request.ID)
	assert.Equal(t, uri.Topic, sent.topic)
	assert.Equal(t, core.EnvelopeSymmetric, sent.envelope.Type)

	var proposal core.SessionProposal
	require.NoError(t, json.Unmarshal(sent.request.Params, &proposal))
	assert.Equal(t, []string{"eth_sign", "personal_sign"}, proposal.Permissions.Methods)
	assert.Equal(t, core.DefaultRelayProtocol, proposal.Relay.Protocol)
	require.NotNil(t, proposal.Proposer.Metadata)
	assert.Equal(t, "walletlink-test", proposal.Proposer.Metadata.Name)

	_, err = b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
	assert.NoError(t, err)

	pairing, _, err := b.pairings.Get(ctx, uri.Topic)
	require.NoError(t, err)
	assert.Equal(t, core.PairingProposalSent, pairing.State)
}

func TestProposeValidation(t *testing.T) {
	ctx := context.Background()
	b := newNode(t)

	_, err := b.pairing.Propose(ctx, "unknown", core.Permissions{Methods: []string{"eth_sign"}}, core.RelayOptions{})
	assert.ErrorIs(t, err, core.ErrNoPairingMatchingTopic)

	_, err = b.pairing.Propose(ctx, "unknown", core.Permissions{}, core.RelayOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidMethod)
}

func TestProposalApprovedSettlesSessionOnBothSides(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)

	var surfaced []core.IncomingProposal
	a.pairing.OnSessionProposal(func(p core.IncomingProposal) { surfaced = append(surfaced, p) })
	var settledOnB []core.Session
	b.session.OnSessionSettled(func(s core.Session) { settledOnB = append(settledOnB, s) })

	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.pairing.Pair(ctx, uri.String()))
	_, err = b.pairing.Propose(ctx, uri.Topic, core.Permissions{Methods: []string{"eth_sign"}}, core.RelayOptions{})
	require.NoError(t, err)

	// proposal reaches the responder
	propose := b.net.lastRequest(t, core.MethodSessionPropose)
	require.NoError(t, a.net.deliverRequest(ctx, propose.topic, propose.request, ""))
	require.Len(t, surfaced, 1)
	assert.Len(t, a.pairing.PendingProposals(), 1)
	pairing, _, err := a.pairings.Get(ctx, uri.Topic)
	require.NoError(t, err)
	assert.Equal(t, core.PairingProposalReceived, pairing.State)

	// responder approves
	topic, err := a.pairing.RespondSessionPropose(ctx, surfaced[0], []string{accountA})
	require.NoError(t, err)
	assert.Empty(t, a.pairing.PendingProposals())
	assert.True(t, a.net.isSubscribed(topic))

	answer := a.net.lastResponse(t)
	assert.Equal(t, uri.Topic, answer.topic)
	assert.Nil(t, answer.response.Error)

	settle := a.net.lastRequest(t, core.MethodSessionSettle)
	assert.Equal(t, topic, settle.topic)
	responderSession, err := a.session.Session(ctx, topic)
	require.NoError(t, err)
	assert.True(t, responderSession.IsSelfController())
	assert.False(t, responderSession.IsActive)

	// proposer handles the answer and derives the same topic and key
	require.NoError(t, b.net.deliverResponse(ctx, answer.topic, propose.request, answer.response))
	assert.True(t, b.net.isSubscribed(topic))
	keyA, err := a.keys.GetSymmetricKey(ctx, topic)
	require.NoError(t, err)
	keyB, err := b.keys.GetSymmetricKey(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)

	proposerSession, err := b.session.Session(ctx, topic)
	require.NoError(t, err)
	assert.False(t, proposerSession.IsActive)
	assert.Equal(t, responderSession.Self.PublicKey, proposerSession.Controller)

	// settlement reaches the proposer
	require.NoError(t, b.net.deliverRequest(ctx, settle.topic, settle.request, ""))
	proposerSession, err = b.session.Session(ctx, topic)
	require.NoError(t, err)
	assert.True(t, proposerSession.IsActive)
	assert.False(t, proposerSession.IsSelfController())
	assert.Equal(t, []string{accountA}, proposerSession.Accounts)
	assert.Equal(t, []string{"eth_sign"}, proposerSession.Methods)
	assert.Equal(t, responderSession.Expiry.Unix(), proposerSession.Expiry.Unix())
	require.Len(t, settledOnB, 1)

	// acknowledgment reaches the responder
	ack := b.net.lastResponse(t)
	require.NoError(t, a.net.deliverResponse(ctx, ack.topic, settle.request, ack.response))
	responderSession, err = a.session.Session(ctx, topic)
	require.NoError(t, err)
	assert.True(t, responderSession.IsActive)

	for _, n := range []*node{a, b} {
		pairing, _, err := n.pairings.Get(ctx, uri.Topic)
		require.NoError(t, err)
		assert.True(t, pairing.IsActive)
		assert.Equal(t, core.PairingActive, pairing.State)
	}
	assert.Contains(t, a.events.kinds(), core.EventSessionSettled)
	assert.Contains(t, b.events.kinds(), core.EventSessionSettled)
}

func TestProposalRejectedRemovesProposerKey(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)

	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.pairing.Pair(ctx, uri.String()))
	_, err = b.pairing.Propose(ctx, uri.Topic, core.Permissions{Methods: []string{"eth_sign"}}, core.RelayOptions{})
	require.NoError(t, err)

	propose := b.net.lastRequest(t, core.MethodSessionPropose)
	var proposal core.SessionProposal
	require.NoError(t, json.Unmarshal(propose.request.Params, &proposal))
	require.NoError(t, a.net.deliverRequest(ctx, propose.topic, propose.request, ""))

	incoming := a.pairing.PendingProposals()
	require.Len(t, incoming, 1)
	require.NoError(t, a.pairing.RejectSessionPropose(ctx, incoming[0], "not today"))
	assert.ErrorIs(t, a.pairing.RejectSessionPropose(ctx, incoming[0], ""), core.ErrNoProposalMatchingID)

	rejection := a.net.lastResponse(t)
	require.NotNil(t, rejection.response.Error)
	assert.Equal(t, core.CodeUserRejected, rejection.response.Error.Code)

	require.NoError(t, b.net.deliverResponse(ctx, rejection.topic, propose.request, rejection.response))
	_, err = b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.Contains(t, b.events.kinds(), core.EventProposalRejected)

	sessions, err := b.session.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestMalformedProposalIsReported(t *testing.T) {
	ctx := context.Background()
	a := newNode(t)
	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)

	req := core.RPCRequest{ID: core.NewRPCID(), JSONRPC: "2.0", Method: core.MethodSessionPropose, Params: json.RawMessage(`"nope"`)}
	assert.ErrorIs(t, a.net.deliverRequest(ctx, uri.Topic, req, ""), core.ErrMalformedPayload)

	req, err = core.NewRPCRequest(core.MethodSessionPropose, core.SessionProposal{
		Proposer:    core.Participant{PublicKey: "zz"},
		Permissions: core.Permissions{Methods: []string{"eth_sign"}},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, a.net.deliverRequest(ctx, uri.Topic, req, ""), core.ErrMalformedPayload)
	assert.Empty(t, a.pairing.PendingProposals())
}

func TestPairingExpiryReleasesKey(t *testing.T) {
	ctx := context.Background()
	// a clock lagging real time puts the expiry just ahead of the store's own clock
	lag := core.TTLInactive - 50*time.Millisecond
	a := newNode(t, service.WithClock(func() time.Time { return time.Now().Add(-lag) }))

	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := a.keys.GetSymmetricKey(ctx, uri.Topic)
		return err != nil && !a.net.isSubscribed(uri.Topic)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, a.events.kinds(), core.EventPairingExpired)
}

func TestPairingExtendAndDelete(t *testing.T) {
	ctx := context.Background()
	a := newNode(t)
	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, a.pairing.Extend(ctx, uri.Topic, time.Hour))
	assert.ErrorIs(t, a.pairing.Extend(ctx, uri.Topic, time.Minute), core.ErrInvalidExtendTime)
	assert.ErrorIs(t, a.pairing.Extend(ctx, uri.Topic, core.TTLActive+time.Hour), core.ErrInvalidExtendTime)

	require.NoError(t, a.pairing.Delete(ctx, uri.Topic))
	assert.ErrorIs(t, a.pairing.Delete(ctx, uri.Topic), core.ErrNoPairingMatchingTopic)
	_, err = a.keys.GetSymmetricKey(ctx, uri.Topic)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.False(t, a.net.isSubscribed(uri.Topic))
}

// proposeOnPairing pairs b with a fresh pairing of a, sends a proposal from b
// and returns it as sent along with its decoded params
func proposeOnPairing(t *testing.T, a, b *node) (core.URI, sentRequest, core.SessionProposal) {
	t.Helper()
	ctx := context.Background()

	uri, err := a.pairing.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.pairing.Pair(ctx, uri.String()))
	_, err = b.pairing.Propose(ctx, uri.Topic, core.Permissions{Methods: []string{"eth_sign"}}, core.RelayOptions{})
	require.NoError(t, err)

	propose := b.net.lastRequest(t, core.MethodSessionPropose)
	var proposal core.SessionProposal
	require.NoError(t, json.Unmarshal(propose.request.Params, &proposal))
	_, err = b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
	require.NoError(t, err)
	return uri, propose, proposal
}

func TestPendingProposalKeyReleasedWithPairing(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		ctx := context.Background()
		a, b := newNode(t), newNode(t)
		uri, propose, proposal := proposeOnPairing(t, a, b)

		require.NoError(t, b.pairing.Delete(ctx, uri.Topic))
		_, err := b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
		assert.ErrorIs(t, err, core.ErrKeyNotFound)

		// an answer arriving afterwards finds nothing to settle
		resp, err := core.NewRPCResult(propose.request.ID, core.ProposalResponse{})
		require.NoError(t, err)
		require.NoError(t, b.net.deliverResponse(ctx, uri.Topic, propose.request, resp))
		sessions, err := b.session.Sessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("expired", func(t *testing.T) {
		ctx := context.Background()
		lag := core.TTLInactive - 300*time.Millisecond
		a := newNode(t)
		b := newNode(t, service.WithClock(func() time.Time { return time.Now().Add(-lag) }))
		uri, _, proposal := proposeOnPairing(t, a, b)

		assert.Eventually(t, func() bool {
			_, err := b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
			return err != nil && !b.net.isSubscribed(uri.Topic)
		}, 3*time.Second, 10*time.Millisecond)
		assert.Contains(t, b.events.kinds(), core.EventPairingExpired)
	})
}

func TestProposalResponseWithMalformedResponderKey(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)
	uri, propose, proposal := proposeOnPairing(t, a, b)

	resp, err := core.NewRPCResult(propose.request.ID, core.ProposalResponse{
		Relay:     core.RelayOptions{Protocol: core.DefaultRelayProtocol},
		Responder: core.Participant{PublicKey: "not-a-key"},
	})
	require.NoError(t, err)

	err = b.net.deliverResponse(ctx, uri.Topic, propose.request, resp)
	assert.ErrorIs(t, err, core.ErrAgreement)

	_, err = b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	sessions, err := b.session.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestProposalResponseKeyStoreFailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	keys := &failingKeys{}
	a := newNode(t)
	b := newNodeWithKeys(t, func(inner ports.KeyStore) ports.KeyStore {
		keys.KeyStore = inner
		return keys
	})
	uri, propose, proposal := proposeOnPairing(t, a, b)

	require.NoError(t, a.net.deliverRequest(ctx, propose.topic, propose.request, ""))
	incoming := a.pairing.PendingProposals()
	require.Len(t, incoming, 1)
	_, err := a.pairing.RespondSessionPropose(ctx, incoming[0], []string{accountA})
	require.NoError(t, err)
	answer := a.net.lastResponse(t)

	keys.armed.Store(true)
	err = b.net.deliverResponse(ctx, uri.Topic, propose.request, answer.response)
	require.Error(t, err)

	_, err = b.keys.GetPrivateKey(ctx, proposal.Proposer.PublicKey)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	sessions, err := b.session.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRespondSessionProposeAnswersTheProposalAsReceived(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)
	uri, propose, proposal := proposeOnPairing(t, a, b)
	require.NoError(t, a.net.deliverRequest(ctx, propose.topic, propose.request, ""))

	other, err := a.pairing.Create(ctx)
	require.NoError(t, err)
	swapped, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	incoming := a.pairing.PendingProposals()
	require.Len(t, incoming, 1)
	tampered := incoming[0]
	tampered.PairingTopic = other.Topic
	tampered.Proposal.Proposer.PublicKey = swapped.Public.Hex()
	tampered.Proposal.Permissions.Methods = []string{"eth_sendTransaction"}

	topic, err := a.pairing.RespondSessionPropose(ctx, tampered, []string{accountA})
	require.NoError(t, err)

	answer := a.net.lastResponse(t)
	assert.Equal(t, uri.Topic, answer.topic)

	// the session key agrees with the key the proposer actually sent
	require.NoError(t, b.net.deliverResponse(ctx, answer.topic, propose.request, answer.response))
	keyA, err := a.keys.GetSymmetricKey(ctx, topic)
	require.NoError(t, err)
	keyB, err := b.keys.GetSymmetricKey(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)

	session, err := a.session.Session(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, proposal.Proposer.PublicKey, session.Peer.PublicKey)
	assert.Equal(t, []string{"eth_sign"}, session.Methods)

	// a rejection is likewise sent where the proposal came from
	_, err = b.pairing.Propose(ctx, uri.Topic, core.Permissions{Methods: []string{"eth_sign"}}, core.RelayOptions{})
	require.NoError(t, err)
	second := b.net.lastRequest(t, core.MethodSessionPropose)
	require.NoError(t, a.net.deliverRequest(ctx, second.topic, second.request, ""))
	pending := a.pairing.PendingProposals()
	require.Len(t, pending, 1)
	misdirected := pending[0]
	misdirected.PairingTopic = other.Topic
	require.NoError(t, a.pairing.RejectSessionPropose(ctx, misdirected, ""))
	assert.Equal(t, uri.Topic, a.net.lastResponse(t).topic)
}
