package core

import "time"

const (
	// TTLInactive bounds a pairing or handshake that has not been acknowledged yet
	TTLInactive = 5 * time.Minute
	// TTLActive bounds any acknowledged sequence and caps every extension
	TTLActive = 30 * 24 * time.Hour
)

// Sequence is a topic-keyed entity with an absolute expiry
type Sequence interface {
	SequenceTopic() string
	ExpiresAt() time.Time
}

// RelayOptions routes a sequence on the transport
type RelayOptions struct {
	Protocol string `json:"protocol"`
	Data     string `json:"data,omitempty"`
}

// DefaultRelayProtocol is used when a caller leaves the relay unset
const DefaultRelayProtocol = "waku"

// WithDefault returns r with the default protocol filled in
func (r RelayOptions) WithDefault() RelayOptions {
	if r.Protocol == "" {
		r.Protocol = DefaultRelayProtocol
	}
	return r
}

// AppMetadata describes a peer application
type AppMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

// Participant is one side of a sequence
type Participant struct {
	PublicKey string       `json:"publicKey,omitempty"`
	Metadata  *AppMetadata `json:"metadata,omitempty"`
}

// extendExpiry computes the new expiry for an extension by ttl.
// The result must be strictly later than current and no later than now+TTLActive.
func extendExpiry(current, now time.Time, ttl time.Duration) (time.Time, error) {
	next := now.Add(ttl)
	if !next.After(current) || next.After(now.Add(TTLActive)) {
		return current, ErrInvalidExtendTime
	}
	return next, nil
}

// validateExpiry applies the extension rule to an absolute expiry received from a peer
func validateExpiry(current, now, next time.Time) error {
	if !next.After(current) || next.After(now.Add(TTLActive)) {
		return ErrInvalidExtendTime
	}
	return nil
}
