package walletlink

import (
	"errors"
)

var (
	// ErrStoreUnavailable is returned when the persistent store cannot be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIncompleteStores is returned when a Client is built with a missing store
	ErrIncompleteStores = errors.New("incomplete stores")
)
