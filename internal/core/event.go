package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventUserJoined notifies room subscribers that a user became present.
	EventUserJoined EventKind = iota
	// EventUserLeft notifies room subscribers that a user became absent.
	EventUserLeft
	// EventStatusChanged notifies room subscribers about a status update.
	EventStatusChanged
	// EventMembers delivers the current member snapshot to a joining connection.
	EventMembers
	// EventError notifies a single connection about a domain error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUserJoined:
		return "user_joined"
	case EventUserLeft:
		return "user_left"
	case EventStatusChanged:
		return "status_changed"
	case EventMembers:
		return "members"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	User    Identity // EventUserJoined
	UserID  string   // EventUserLeft, EventStatusChanged
	Status  Status   // EventStatusChanged
	Members []Member // EventMembers
	Error   *CoreError
}

// Member is one entry of a room snapshot.
type Member struct {
	UserID    string
	Nickname  string
	AvatarURL string
	Status    Status
	JoinedAt  time.Time
}
