package core

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const (
	URIScheme  = "wc"
	URIVersion = "2"
)

// URI is the out-of-band pairing link, wc:TOPIC@VERSION?relay-protocol=NAME&symKey=HEX
type URI struct {
	Topic  string
	Relay  RelayOptions
	SymKey string
}

// String encodes the URI
func (u URI) String() string {
	q := url.Values{}
	q.Set("relay-protocol", u.Relay.WithDefault().Protocol)
	if u.Relay.Data != "" {
		q.Set("relay-data", u.Relay.Data)
	}
	q.Set("symKey", u.SymKey)
	return fmt.Sprintf("%s:%s@%s?%s", URIScheme, u.Topic, URIVersion, q.Encode())
}

// ParseURI decodes a pairing URI produced by URI.String
func ParseURI(raw string) (URI, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return URI{}, fmt.Errorf("%v: %w", err, ErrMalformedURI)
	}
	if parsed.Scheme != URIScheme {
		return URI{}, fmt.Errorf("unexpected scheme %q: %w", parsed.Scheme, ErrMalformedURI)
	}

	topic, version, ok := strings.Cut(parsed.Opaque, "@")
	if !ok || version != URIVersion || !isHex32(topic) {
		return URI{}, fmt.Errorf("bad topic or version %q: %w", parsed.Opaque, ErrMalformedURI)
	}

	q := parsed.Query()
	protocol := q.Get("relay-protocol")
	symKey := q.Get("symKey")
	if protocol == "" || !isHex32(symKey) {
		return URI{}, fmt.Errorf("missing relay protocol or symmetric key: %w", ErrMalformedURI)
	}

	return URI{
		Topic:  strings.ToLower(topic),
		Relay:  RelayOptions{Protocol: protocol, Data: q.Get("relay-data")},
		SymKey: strings.ToLower(symKey),
	}, nil
}

func isHex32(s string) bool {
	b, err := hex.DecodeString(s)
	return err == nil && len(b) == 32
}
