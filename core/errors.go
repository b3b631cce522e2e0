package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedURI              = errors.New("malformed pairing uri")
	ErrPairingAlreadyKnown       = errors.New("pairing already known")
	ErrNoPairingMatchingTopic    = errors.New("no pairing matching topic")
	ErrNoSessionMatchingTopic    = errors.New("no session matching topic")
	ErrSessionNotAcknowledged    = errors.New("session not acknowledged")
	ErrInvalidMethod             = errors.New("invalid method")
	ErrInvalidAccount            = errors.New("invalid account")
	ErrInvalidExtendTime         = errors.New("invalid extend time")
	ErrUnauthorizedNonController = errors.New("unauthorized non-controller call")
	ErrAgreement                 = errors.New("key agreement failed")
	ErrMissingKey                = errors.New("no key stored for topic")
	ErrKeyNotFound               = errors.New("key not found")
	ErrMalformedPayload          = errors.New("malformed rpc payload")
	ErrNoProposalMatchingID      = errors.New("no pending proposal matching id")
	ErrNoInviteMatchingID        = errors.New("no invite matching id")
	ErrIdentityKeyNotFound       = errors.New("identity key not found")
	ErrInviteKeyNotFound         = errors.New("invite key not found")
	ErrSignatureRejected         = errors.New("signature rejected")
	ErrInvalidToken              = errors.New("invalid token")
)

// RPC error codes carried in error responses
const (
	CodeInvalidParams  = 1000
	CodeUnauthorized   = 3003
	CodeUserRejected   = 5000
	CodeNoMatchingKey  = 7000
	CodeInternalFailed = 9000
)

// RPCError is the error member of an RPC response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError maps a local error onto a wire error
func NewRPCError(err error) *RPCError {
	switch {
	case errors.Is(err, ErrUnauthorizedNonController):
		return &RPCError{Code: CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrInvalidExtendTime):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, ErrNoSessionMatchingTopic), errors.Is(err, ErrMissingKey):
		return &RPCError{Code: CodeNoMatchingKey, Message: err.Error()}
	default:
		return &RPCError{Code: CodeInternalFailed, Message: err.Error()}
	}
}
