package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	namespacePattern = regexp.MustCompile(`^[-a-z0-9]{3,8}$`)
	referencePattern = regexp.MustCompile(`^[-_a-zA-Z0-9]{1,32}$`)
	addressPattern   = regexp.MustCompile(`^[-.%a-zA-Z0-9]{1,128}$`)
)

// Account is a CAIP-10 chain account, namespace:reference:address
type Account struct {
	Namespace string
	Reference string
	Address   string
}

// ParseAccount parses a CAIP-10 account string.
// eip155 addresses must be valid hex addresses.
func ParseAccount(s string) (Account, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Account{}, fmt.Errorf("%q: %w", s, ErrInvalidAccount)
	}
	acc := Account{Namespace: parts[0], Reference: parts[1], Address: parts[2]}
	if !namespacePattern.MatchString(acc.Namespace) ||
		!referencePattern.MatchString(acc.Reference) ||
		!addressPattern.MatchString(acc.Address) {
		return Account{}, fmt.Errorf("%q: %w", s, ErrInvalidAccount)
	}
	if acc.Namespace == "eip155" && !common.IsHexAddress(acc.Address) {
		return Account{}, fmt.Errorf("%q is not an ethereum address: %w", s, ErrInvalidAccount)
	}
	return acc, nil
}

func (a Account) String() string {
	return a.Namespace + ":" + a.Reference + ":" + a.Address
}

// Equal compares accounts; eip155 addresses compare regardless of checksum case
func (a Account) Equal(b Account) bool {
	if a.Namespace != b.Namespace || a.Reference != b.Reference {
		return false
	}
	if a.Namespace == "eip155" {
		return strings.EqualFold(a.Address, b.Address)
	}
	return a.Address == b.Address
}

// DID returns the did:pkh form of the account
func (a Account) DID() string {
	return "did:pkh:" + a.String()
}

// AccountFromDID parses a did:pkh identifier
func AccountFromDID(did string) (Account, error) {
	if !strings.HasPrefix(did, "did:pkh:") {
		return Account{}, fmt.Errorf("%q: %w", did, ErrInvalidAccount)
	}
	return ParseAccount(strings.TrimPrefix(did, "did:pkh:"))
}
