package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/studyroom-server/internal/store"
)

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db, now: utcNow}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema and fixtures.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup so :memory: databases
	// are not split across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: utcNow}, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a user with a generated ID.
func (s *SQLiteStore) CreateUser(ctx context.Context, nickname, avatarURL string) (*store.User, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO users (id, nickname, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, nickname, avatarURL, s.now()); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, nickname, avatar_url, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Nickname,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== RoomStore implementation ====

// CreateRoom inserts a room with a generated ID.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string) (*store.Room, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO rooms (id, name, created_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, name, s.now()); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return s.GetRoomByID(ctx, id)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id string) (*store.Room, error) {
	query := `
		SELECT id, name, created_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	return &room, nil
}

// RoomExists reports whether a room with the given ID exists.
func (s *SQLiteStore) RoomExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check room: %w", err)
	}
	return exists, nil
}

// ==== MembershipStore implementation ====

// OpenMembership reuses the open row for (user, room) or inserts a new one.
func (s *SQLiteStore) OpenMembership(ctx context.Context, userID, roomID, status string) (*store.Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	m := store.Membership{UserID: userID, RoomID: roomID, Status: status}
	err = tx.QueryRowContext(ctx, `
		SELECT id, joined_at
		FROM room_members
		WHERE user_id = ? AND room_id = ? AND left_at IS NULL
	`, userID, roomID).Scan(&m.ID, &m.JoinedAt)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE room_members SET status = ? WHERE id = ?`, status, m.ID); err != nil {
			return nil, fmt.Errorf("update open membership: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		m.ID = uuid.NewString()
		m.JoinedAt = s.now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (id, user_id, room_id, status, joined_at)
			VALUES (?, ?, ?, ?, ?)
		`, m.ID, userID, roomID, status, m.JoinedAt); err != nil {
			return nil, fmt.Errorf("insert membership: %w", err)
		}
	default:
		return nil, fmt.Errorf("query open membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &m, nil
}

// CloseMembership sets left_at on the most recently opened row.
func (s *SQLiteStore) CloseMembership(ctx context.Context, userID, roomID string) (bool, error) {
	query := `
		UPDATE room_members
		SET left_at = ?
		WHERE id = (
			SELECT id FROM room_members
			WHERE user_id = ? AND room_id = ? AND left_at IS NULL
			ORDER BY joined_at DESC, rowid DESC
			LIMIT 1
		)
	`
	result, err := s.db.ExecContext(ctx, query, s.now(), userID, roomID)
	if err != nil {
		return false, fmt.Errorf("close membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListOpenMembers lists open memberships of a room with user display fields.
func (s *SQLiteStore) ListOpenMembers(ctx context.Context, roomID string) ([]*store.OpenMember, error) {
	query := `
		SELECT m.user_id, u.nickname, u.avatar_url, m.status, m.joined_at
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ? AND m.left_at IS NULL
		ORDER BY m.joined_at ASC, m.rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query open members: %w", err)
	}
	defer rows.Close()

	members := make([]*store.OpenMember, 0)
	for rows.Next() {
		var m store.OpenMember
		if err := rows.Scan(&m.UserID, &m.Nickname, &m.AvatarURL, &m.Status, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan open member: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open members: %w", err)
	}

	return members, nil
}

// UpdateMemberStatus changes the status of the open row.
func (s *SQLiteStore) UpdateMemberStatus(ctx context.Context, userID, roomID, status string) error {
	query := `
		UPDATE room_members
		SET status = ?
		WHERE user_id = ? AND room_id = ? AND left_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, status, userID, roomID)
	if err != nil {
		return fmt.Errorf("update member status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNoOpenMembership
	}
	return nil
}

// ListOpenMemberships lists every open row across all rooms.
func (s *SQLiteStore) ListOpenMemberships(ctx context.Context) ([]*store.Membership, error) {
	query := `
		SELECT id, user_id, room_id, status, joined_at
		FROM room_members
		WHERE left_at IS NULL
		ORDER BY joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*store.Membership
	for rows.Next() {
		var m store.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.RoomID, &m.Status, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}

	return memberships, nil
}
