package core

import "time"

// EventKind names a lifecycle event
type EventKind string

const (
	EventPairingCreated   EventKind = "pairing.created"
	EventPairingPaired    EventKind = "pairing.paired"
	EventPairingActivated EventKind = "pairing.activated"
	EventPairingExpired   EventKind = "pairing.expired"
	EventPairingDeleted   EventKind = "pairing.deleted"
	EventProposalReceived EventKind = "proposal.received"
	EventProposalRejected EventKind = "proposal.rejected"
	EventSessionSettled   EventKind = "session.settled"
	EventSessionUpdated   EventKind = "session.updated"
	EventSessionExpired   EventKind = "session.expired"
	EventSessionDeleted   EventKind = "session.deleted"
	EventInviteSent       EventKind = "invite.sent"
	EventInviteReceived   EventKind = "invite.received"
	EventInviteRejected   EventKind = "invite.rejected"
	EventInviteExpired    EventKind = "invite.expired"
	EventThreadCreated    EventKind = "thread.created"
	EventThreadExpired    EventKind = "thread.expired"
)

// Event is a lifecycle notification for interested collaborators
type Event struct {
	Kind  EventKind `json:"kind"`
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
	// Detail carries a short reason or related identifier
	Detail string `json:"detail,omitempty"`
}
