package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the connection to a room and counts it as present.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom undoes a join for this connection.
	CommandLeaveRoom
	// CommandUpdateStatus changes the user's status in a joined room.
	CommandUpdateStatus
)

func (k CommandKind) String() string {
	switch k {
	case CommandJoinRoom:
		return "room.join"
	case CommandLeaveRoom:
		return "room.leave"
	case CommandUpdateStatus:
		return "status.update"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind   CommandKind
	Room   string
	Status string
}
