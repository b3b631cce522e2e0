package core

import "time"

// InviteStatus tracks the outcome of an invite
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteApproved InviteStatus = "approved"
	InviteRejected InviteStatus = "rejected"
)

// Invite is the input of an outgoing invite
type Invite struct {
	Message          string
	InviterAccount   string
	InviteeAccount   string
	InviteePublicKey string // invite key published by the invitee, hex
}

// SentInvite is an invite awaiting the invitee's answer, keyed by its response topic
type SentInvite struct {
	ID             int64        `json:"id"`
	Message        string       `json:"message"`
	InviterAccount string       `json:"inviterAccount"`
	InviteeAccount string       `json:"inviteeAccount"`
	InviteTopic    string       `json:"inviteTopic"`
	ResponseTopic  string       `json:"responseTopic"`
	SelfPublicKey  string       `json:"selfPublicKey"`
	Status         InviteStatus `json:"status"`
	Timestamp      time.Time    `json:"timestamp"`
	Expiry         time.Time    `json:"expiry"`
}

func (i SentInvite) SequenceTopic() string { return i.ResponseTopic }
func (i SentInvite) ExpiresAt() time.Time  { return i.Expiry }

// ReceivedInvite is an invite delivered on one of our invite topics
type ReceivedInvite struct {
	ID               int64        `json:"id"`
	Message          string       `json:"message"`
	InviterAccount   string       `json:"inviterAccount"`
	InviteeAccount   string       `json:"inviteeAccount"`
	InviterPublicKey string       `json:"inviterPublicKey"`
	InviteePublicKey string       `json:"inviteePublicKey"`
	ResponseTopic    string       `json:"responseTopic"`
	Status           InviteStatus `json:"status"`
	Timestamp        time.Time    `json:"timestamp"`
	Expiry           time.Time    `json:"expiry"`
}

func (i ReceivedInvite) SequenceTopic() string { return i.ResponseTopic }
func (i ReceivedInvite) ExpiresAt() time.Time  { return i.Expiry }

// Thread is the encrypted channel created by an accepted invite
type Thread struct {
	Topic       string    `json:"topic"`
	SelfAccount string    `json:"selfAccount"`
	PeerAccount string    `json:"peerAccount"`
	Expiry      time.Time `json:"expiry"`
}

func (t Thread) SequenceTopic() string { return t.Topic }
func (t Thread) ExpiresAt() time.Time  { return t.Expiry }
