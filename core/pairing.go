package core

import "time"

// PairingState tracks a pairing through its handshake
type PairingState string

const (
	PairingURICreated       PairingState = "uri_created"
	PairingPaired           PairingState = "paired"
	PairingProposalSent     PairingState = "proposal_sent"
	PairingProposalReceived PairingState = "proposal_received"
	PairingActive           PairingState = "active"
)

// Pairing is the short-lived sequence bootstrapped from a pairing URI
type Pairing struct {
	Topic    string       `json:"topic"`
	Relay    RelayOptions `json:"relay"`
	Self     Participant  `json:"self"`
	Peer     *Participant `json:"peer,omitempty"`
	State    PairingState `json:"state"`
	IsActive bool         `json:"isActive"`
	Expiry   time.Time    `json:"expiry"`
}

// NewPairing creates an inactive pairing with the short TTL
func NewPairing(topic string, relay RelayOptions, state PairingState, now time.Time) Pairing {
	return Pairing{
		Topic:  topic,
		Relay:  relay.WithDefault(),
		State:  state,
		Expiry: now.Add(TTLInactive),
	}
}

func (p Pairing) SequenceTopic() string { return p.Topic }
func (p Pairing) ExpiresAt() time.Time  { return p.Expiry }

// Extend moves the expiry to now+ttl, leaving it untouched on failure
func (p *Pairing) Extend(ttl time.Duration, now time.Time) error {
	next, err := extendExpiry(p.Expiry, now, ttl)
	if err != nil {
		return err
	}
	p.Expiry = next
	return nil
}

// Activate marks the pairing acknowledged and resets its TTL to the long window
func (p *Pairing) Activate(now time.Time) {
	p.IsActive = true
	p.State = PairingActive
	p.Expiry = now.Add(TTLActive)
}
