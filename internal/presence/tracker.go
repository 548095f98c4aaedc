// Package presence tracks how many live connections each user holds in each room.
//
// The tracker is process-local. Counts are lost on restart; the durable
// membership rows are reconciled against it by core.Reconciler.
package presence

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Result describes what a Release did to a (room, user) entry.
type Result int

const (
	// StillPresent means the user still holds at least one connection in the room.
	StillPresent Result = iota
	// BecameAbsent means this release took the count from 1 to 0.
	BecameAbsent
	// AlreadyAbsent means there was no entry to release.
	AlreadyAbsent
)

func (r Result) String() string {
	switch r {
	case StillPresent:
		return "still_present"
	case BecameAbsent:
		return "became_absent"
	case AlreadyAbsent:
		return "already_absent"
	default:
		return "unknown"
	}
}

// Key identifies a presence entry.
type Key struct {
	Room string
	User string
}

// Tracker is a goroutine-safe reference counter keyed by (room, user).
// Entries exist only while their count is positive.
type Tracker struct {
	counts *xsync.MapOf[Key, int]
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: xsync.NewMapOf[Key, int]()}
}

// Acquire adds one connection for user in room.
// It reports whether this was the user's first connection in the room.
func (t *Tracker) Acquire(room, user string) bool {
	n, _ := t.counts.Compute(Key{Room: room, User: user}, func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
	return n == 1
}

// Release removes one connection for user in room.
func (t *Tracker) Release(room, user string) Result {
	result := AlreadyAbsent
	t.counts.Compute(Key{Room: room, User: user}, func(old int, loaded bool) (int, bool) {
		if !loaded || old <= 0 {
			result = AlreadyAbsent
			return 0, true
		}
		if old == 1 {
			result = BecameAbsent
			return 0, true
		}
		result = StillPresent
		return old - 1, false
	})
	return result
}

// Count returns the number of connections user holds in room.
func (t *Tracker) Count(room, user string) int {
	n, _ := t.counts.Load(Key{Room: room, User: user})
	return n
}

// Present returns the IDs of users with at least one connection in room, sorted.
func (t *Tracker) Present(room string) []string {
	var users []string
	t.counts.Range(func(k Key, n int) bool {
		if k.Room == room && n > 0 {
			users = append(users, k.User)
		}
		return true
	})
	sort.Strings(users)
	return users
}

// Stats summarises the tracker contents.
type Stats struct {
	Rooms       int
	Pairs       int
	Connections int
}

// Stats returns a point-in-time summary. It is not a consistent snapshot
// under concurrent writes.
func (t *Tracker) Stats() Stats {
	var st Stats
	rooms := make(map[string]struct{})
	t.counts.Range(func(k Key, n int) bool {
		rooms[k.Room] = struct{}{}
		st.Pairs++
		st.Connections += n
		return true
	})
	st.Rooms = len(rooms)
	return st
}
