package core

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"
)

// RPC methods exchanged between peers
const (
	MethodSessionPropose        = "session_propose"
	MethodSessionSettle         = "session_settle"
	MethodSessionUpdateMethods  = "session_update_methods"
	MethodSessionUpdateAccounts = "session_update_accounts"
	MethodSessionUpdateExpiry   = "session_update_expiry"
	MethodSessionDelete         = "session_delete"
	MethodInvitePropose         = "invite_propose"
)

// EnvelopeType selects how a payload is sealed for a topic
type EnvelopeType byte

const (
	// EnvelopeSymmetric seals with the key stored for the topic
	EnvelopeSymmetric EnvelopeType = 0
	// EnvelopeSenderKey also carries the sender public key so a receiver
	// holding only an asymmetric key for the topic can derive the symmetric key
	EnvelopeSenderKey EnvelopeType = 1
)

// Envelope is the sealing hint passed to the transport
type Envelope struct {
	Type            EnvelopeType
	SenderPublicKey string
}

// RPCRequest is the request envelope
type RPCRequest struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCResponse is the response envelope; exactly one of Result and Error is set
type RPCResponse struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewRPCRequest builds a request with a fresh correlation id
func NewRPCRequest(method string, params any) (RPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return RPCRequest{}, err
	}
	return RPCRequest{ID: NewRPCID(), JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// NewRPCResult builds a success response for id
func NewRPCResult(id int64, result any) (RPCResponse, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return RPCResponse{}, err
	}
	return RPCResponse{ID: id, JSONRPC: "2.0", Result: raw}, nil
}

// NewRPCErrorResponse builds an error response for id
func NewRPCErrorResponse(id int64, rpcErr *RPCError) RPCResponse {
	return RPCResponse{ID: id, JSONRPC: "2.0", Error: rpcErr}
}

// NewRPCID returns a millisecond timestamp with three random trailing digits
func NewRPCID() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		n = big.NewInt(0)
	}
	return time.Now().UnixMilli()*1000 + n.Int64()
}

// RequestPayload is an inbound request with its routing data
type RequestPayload struct {
	Topic   string
	Request RPCRequest
	// SenderPublicKey is set for EnvelopeSenderKey deliveries
	SenderPublicKey string
}

// ResponsePayload is an inbound response joined with the request it answers
type ResponsePayload struct {
	Topic    string
	Request  RPCRequest
	Response RPCResponse
}

// SessionProposal is the params of session_propose
type SessionProposal struct {
	Relay       RelayOptions `json:"relay"`
	Proposer    Participant  `json:"proposer"`
	Permissions Permissions  `json:"permissions"`
}

// ProposalResponse is the result of an accepted session_propose
type ProposalResponse struct {
	Relay     RelayOptions `json:"relay"`
	Responder Participant  `json:"responder"`
}

// IncomingProposal is a proposal surfaced to the responder's caller
type IncomingProposal struct {
	ID           int64           `json:"id"`
	PairingTopic string          `json:"pairingTopic"`
	Proposal     SessionProposal `json:"proposal"`
}

// SessionSettlement is handed to the session layer when a proposal completes
type SessionSettlement struct {
	Topic        string
	PairingTopic string
	Relay        RelayOptions
	Self         Participant
	Peer         Participant
	Permissions  Permissions
	Accounts     []string
	// SelfIsController is true on the responder
	SelfIsController bool
}

// SettleParams is the params of session_settle
type SettleParams struct {
	Relay      RelayOptions `json:"relay"`
	Controller Participant  `json:"controller"`
	Methods    []string     `json:"methods"`
	Accounts   []string     `json:"accounts"`
	Expiry     int64        `json:"expiry"`
}

// UpdateMethodsParams is the params of session_update_methods
type UpdateMethodsParams struct {
	Methods []string `json:"methods"`
}

// UpdateAccountsParams is the params of session_update_accounts
type UpdateAccountsParams struct {
	Accounts []string `json:"accounts"`
}

// UpdateExpiryParams is the params of session_update_expiry
type UpdateExpiryParams struct {
	Expiry int64 `json:"expiry"`
}

// DeleteParams is the params of session_delete
type DeleteParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InviteParams is the params of invite_propose
type InviteParams struct {
	InviteAuth string `json:"inviteAuth"`
}

// InviteAccept is the result of an accepted invite_propose
type InviteAccept struct {
	PublicKey string `json:"publicKey"`
}
