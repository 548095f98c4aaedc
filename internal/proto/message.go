package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeAuth         = "auth"
	InboundTypeJoin         = "room.join"
	InboundTypeLeave        = "room.leave"
	InboundTypeStatusUpdate = "status.update"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventUserJoinedName    = "user_joined"
	EventUserLeftName      = "user_left"
	EventStatusChangedName = "status_changed"
	EventMembersName       = "members"
)

// AuthData carries the bearer credential when it is not in the URL or headers.
type AuthData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// RoomData names the room of a join or leave.
type RoomData struct {
	RoomID string `json:"roomId"`
}

// StatusData is a status update for a joined room.
type StatusData struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// UserRef identifies a user in room events.
type UserRef struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// EventUserJoined notifies that a user became present in a room.
type EventUserJoined struct {
	RoomID string  `json:"roomId"`
	User   UserRef `json:"user"`
}

// EventUserLeft notifies that a user is no longer present in a room.
type EventUserLeft struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// EventStatusChanged notifies a member status change.
type EventStatusChanged struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// MemberItem is one entry of a members snapshot.
type MemberItem struct {
	UserID    string    `json:"userId"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatarUrl"`
	Status    string    `json:"status"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// EventMembers is the room snapshot sent to a joining connection.
type EventMembers struct {
	RoomID string       `json:"roomId"`
	Items  []MemberItem `json:"items"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
