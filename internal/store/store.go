package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested user or room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoOpenMembership is returned when a user has no open membership row in a room.
	ErrNoOpenMembership = errors.New("no open membership")
)

// User is the display-facing part of a user account.
// Accounts themselves are managed elsewhere; this core only reads them.
type User struct {
	ID        string
	Nickname  string
	AvatarURL string
	CreatedAt time.Time
}

// Room represents a study room.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Membership is a durable presence row. A row with LeftAt == nil is the
// user's open membership in the room; there is at most one per (user, room).
type Membership struct {
	ID       string
	UserID   string
	RoomID   string
	Status   string
	JoinedAt time.Time
	LeftAt   *time.Time
}

// Open reports whether the membership has not been closed yet.
func (m *Membership) Open() bool {
	return m.LeftAt == nil
}

// OpenMember is an open membership joined with the user's display fields.
type OpenMember struct {
	UserID    string
	Nickname  string
	AvatarURL string
	Status    string
	JoinedAt  time.Time
}

// UserStore handles user lookups.
type UserStore interface {
	// CreateUser inserts a user with a generated ID.
	CreateUser(ctx context.Context, nickname, avatarURL string) (*User, error)

	// GetUserByID retrieves a user by ID. Returns ErrNotFound if missing.
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// RoomStore handles room lookups.
type RoomStore interface {
	// CreateRoom inserts a room with a generated ID.
	CreateRoom(ctx context.Context, name string) (*Room, error)

	// GetRoomByID retrieves a room by ID. Returns ErrNotFound if missing.
	GetRoomByID(ctx context.Context, id string) (*Room, error)

	// RoomExists reports whether a room with the given ID exists.
	RoomExists(ctx context.Context, id string) (bool, error)
}

// MembershipStore persists presence transitions.
type MembershipStore interface {
	// OpenMembership reuses the open row for (user, room), updating its status,
	// or inserts a new one. The lookup and insert run in one transaction.
	OpenMembership(ctx context.Context, userID, roomID, status string) (*Membership, error)

	// CloseMembership sets left_at on the most recently opened row.
	// Returns false without error when there is no open row.
	CloseMembership(ctx context.Context, userID, roomID string) (bool, error)

	// ListOpenMembers lists open memberships of a room ordered by joined_at ascending.
	ListOpenMembers(ctx context.Context, roomID string) ([]*OpenMember, error)

	// UpdateMemberStatus changes the status of the open row.
	// Returns ErrNoOpenMembership when there is none.
	UpdateMemberStatus(ctx context.Context, userID, roomID, status string) error

	// ListOpenMemberships lists every open row across all rooms.
	ListOpenMemberships(ctx context.Context) ([]*Membership, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MembershipStore

	// Close closes the underlying database connection.
	Close() error
}
