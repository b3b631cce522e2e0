package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Permissions is the remote-call scope requested in a proposal
type Permissions struct {
	Methods []string `json:"methods"`
	Chains  []string `json:"chains,omitempty"`
}

// Session is the long-lived sequence negotiated over a pairing
type Session struct {
	Topic        string       `json:"topic"`
	PairingTopic string       `json:"pairingTopic"`
	Relay        RelayOptions `json:"relay"`
	Self         Participant  `json:"self"`
	Peer         Participant  `json:"peer"`
	// Controller is the public key of the peer allowed to mutate the scope
	Controller string    `json:"controller"`
	Methods    []string  `json:"methods"`
	Accounts   []string  `json:"accounts"`
	IsActive   bool      `json:"isActive"`
	Expiry     time.Time `json:"expiry"`
}

func (s Session) SequenceTopic() string { return s.Topic }
func (s Session) ExpiresAt() time.Time  { return s.Expiry }

// IsSelfController reports whether the local peer holds mutation authority
func (s Session) IsSelfController() bool {
	return s.Controller != "" && s.Controller == s.Self.PublicKey
}

// Extend moves the expiry to now+ttl, leaving it untouched on failure.
// Session expiries are whole seconds, as carried on the wire.
func (s *Session) Extend(ttl time.Duration, now time.Time) error {
	return s.ApplyExpiry(now.Add(ttl).Truncate(time.Second), now)
}

// ApplyExpiry sets an absolute expiry received from the controller
func (s *Session) ApplyExpiry(expiry, now time.Time) error {
	if err := validateExpiry(s.Expiry, now, expiry); err != nil {
		return err
	}
	s.Expiry = expiry
	return nil
}

// NormalizeMethods validates and deduplicates a method set
func NormalizeMethods(methods []string) ([]string, error) {
	if len(methods) == 0 {
		return nil, fmt.Errorf("empty method set: %w", ErrInvalidMethod)
	}
	return normalizeSet(methods, func(m string) error {
		if strings.TrimSpace(m) == "" || strings.ContainsAny(m, " \t\r\n") {
			return fmt.Errorf("%q: %w", m, ErrInvalidMethod)
		}
		return nil
	})
}

// NormalizeAccounts validates and deduplicates an account set
func NormalizeAccounts(accounts []string) ([]string, error) {
	return normalizeSet(accounts, func(a string) error {
		_, err := ParseAccount(a)
		return err
	})
}

func normalizeSet(values []string, check func(string) error) ([]string, error) {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if err := check(v); err != nil {
			return nil, err
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
