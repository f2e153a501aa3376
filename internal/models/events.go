package models

import "time"

// Client event types accepted over a websocket connection.
const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventSendMessage      = "send-message"
	EventMessageDelivered = "message-delivered"
	EventMessageRead      = "message-read"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventUserStatus       = "user-status"
)

// Server event types emitted to websocket connections.
const (
	EventMessageReceived = "message-received"
	EventMessageDeleted  = "message-deleted"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventOnlineUsers     = "online-users"
	EventSessionWarning  = "session-warning"
	EventSessionTimeout  = "session-timeout"
	EventForceLogout     = "force-logout"
	EventError           = "error"
)

// ClientEvent is an inbound websocket frame.
type ClientEvent struct {
	Type        string      `json:"type"`
	ReceiverID  *int64      `json:"receiver_id,omitempty"`
	GroupID     *int64      `json:"group_id,omitempty"`
	RoomID      int64       `json:"room_id,omitempty"`
	RoomType    string      `json:"room_type,omitempty"`
	Content     string      `json:"content,omitempty"`
	MessageType MessageKind `json:"message_type,omitempty"`
	MessageID   int64       `json:"message_id,omitempty"`
	SenderID    int64       `json:"sender_id,omitempty"`
	Status      UserStatus  `json:"status,omitempty"`
}

// ServerEvent is an outbound websocket frame.
type ServerEvent struct {
	Type                string     `json:"type"`
	Message             *Message   `json:"message,omitempty"`
	Status              string     `json:"status,omitempty"`
	MessageID           int64      `json:"message_id,omitempty"`
	UserID              int64      `json:"user_id,omitempty"`
	DeliveredBy         int64      `json:"delivered_by,omitempty"`
	ReadBy              int64      `json:"read_by,omitempty"`
	MarkedCount         int        `json:"marked_count,omitempty"`
	OnlineUsers         []int64    `json:"online_users,omitempty"`
	MinutesUntilTimeout int        `json:"minutes_until_timeout,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	Error               string     `json:"error,omitempty"`
	Timestamp           *time.Time `json:"timestamp,omitempty"`
}
