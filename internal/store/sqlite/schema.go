package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the bootstrap schema. Every statement is idempotent.
//
// idx_room_members_open is a partial unique index: it allows any number of
// closed rows per (user, room) but only one with left_at IS NULL.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	nickname   TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS room_members (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	room_id   TEXT NOT NULL,
	status    TEXT NOT NULL DEFAULT 'idle',
	joined_at DATETIME NOT NULL,
	left_at   DATETIME,
	FOREIGN KEY (user_id) REFERENCES users(id),
	FOREIGN KEY (room_id) REFERENCES rooms(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_room_members_open
	ON room_members(user_id, room_id) WHERE left_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_room_members_room
	ON room_members(room_id, left_at, joined_at);
`

// ApplySchema runs Schema on db. It matches the NewWithSetup setup signature.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Migrate applies the bootstrap schema to an open store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
