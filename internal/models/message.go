package models

import "time"

// DeliveryState is the lifecycle stage of a message. Transitions only move
// forward: sent -> delivered -> read.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

// Rank orders delivery states so transitions can be checked for regression.
func (s DeliveryState) Rank() int {
	switch s {
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	case StateRead:
		return 3
	}
	return 0
}

// MessageKind classifies message content.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// Valid reports whether the kind is one of the supported values.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage || k == KindFile
}

// Message represents a chat message, in flight or at rest. Exactly one of
// ReceiverID and GroupID is set.
type Message struct {
	ID          int64         `db:"id" json:"id"`
	SenderID    int64         `db:"sender_id" json:"sender_id"`
	ReceiverID  *int64        `db:"receiver_id" json:"receiver_id,omitempty"`
	GroupID     *int64        `db:"group_id" json:"group_id,omitempty"`
	Content     string        `db:"content" json:"content"`
	Kind        MessageKind   `db:"kind" json:"kind"`
	State       DeliveryState `db:"state" json:"state"`
	Deleted     bool          `db:"deleted" json:"deleted"`
	SentAt      time.Time     `db:"sent_at" json:"sent_at"`
	DeliveredAt *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `db:"read_at" json:"read_at,omitempty"`
}
