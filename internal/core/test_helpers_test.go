package core

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/studyroom-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain returns every event currently queued on ch.
func drain(ch <-chan *Event) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []*Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("store down")

// memStore is an in-memory RoomRepository and MembershipStore with failure
// injection.
type memStore struct {
	mu        sync.Mutex
	rooms     map[string]bool
	nicknames map[string]string
	rows      []*store.Membership
	clock     time.Time

	failOpen  bool
	failClose bool

	inserts      int
	closes       int
	statusWrites int
}

func newMemStore(rooms ...string) *memStore {
	s := &memStore{
		rooms:     make(map[string]bool),
		nicknames: make(map[string]string),
		clock:     time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, r := range rooms {
		s.rooms[r] = true
	}
	return s
}

func (s *memStore) setFailOpen(v bool) {
	s.mu.Lock()
	s.failOpen = v
	s.mu.Unlock()
}

func (s *memStore) setFailClose(v bool) {
	s.mu.Lock()
	s.failClose = v
	s.mu.Unlock()
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) RoomExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id], nil
}

func (s *memStore) OpenMembership(_ context.Context, userID, roomID, status string) (*store.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen {
		return nil, errStoreDown
	}
	for _, m := range s.rows {
		if m.UserID == userID && m.RoomID == roomID && m.Open() {
			m.Status = status
			cp := *m
			return &cp, nil
		}
	}
	s.inserts++
	m := &store.Membership{
		ID:       "m" + strconv.Itoa(s.inserts),
		UserID:   userID,
		RoomID:   roomID,
		Status:   status,
		JoinedAt: s.tick(),
	}
	s.rows = append(s.rows, m)
	cp := *m
	return &cp, nil
}

func (s *memStore) CloseMembership(_ context.Context, userID, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClose {
		return false, errStoreDown
	}
	for i := len(s.rows) - 1; i >= 0; i-- {
		m := s.rows[i]
		if m.UserID == userID && m.RoomID == roomID && m.Open() {
			now := s.tick()
			m.LeftAt = &now
			s.closes++
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListOpenMembers(_ context.Context, roomID string) ([]*store.OpenMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.OpenMember
	for _, m := range s.rows {
		if m.RoomID == roomID && m.Open() {
			out = append(out, &store.OpenMember{
				UserID:   m.UserID,
				Nickname: s.nicknames[m.UserID],
				Status:   m.Status,
				JoinedAt: m.JoinedAt,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *memStore) UpdateMemberStatus(_ context.Context, userID, roomID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.UserID == userID && m.RoomID == roomID && m.Open() {
			m.Status = status
			s.statusWrites++
			return nil
		}
	}
	return store.ErrNoOpenMembership
}

func (s *memStore) ListOpenMemberships(_ context.Context) ([]*store.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Membership
	for _, m := range s.rows {
		if m.Open() {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) openRows(userID, roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.rows {
		if m.UserID == userID && m.RoomID == roomID && m.Open() {
			n++
		}
	}
	return n
}

func (s *memStore) counts() (inserts, closes, statusWrites int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts, s.closes, s.statusWrites
}

func newTestGateway(t *testing.T, st *memStore) *Gateway {
	t.Helper()
	return NewGateway(st, st, nil, nil, nil, Options{})
}

func newTestClient(st *memStore, connID, userID, nickname string) *Client {
	st.mu.Lock()
	st.nicknames[userID] = nickname
	st.mu.Unlock()
	return NewClient(connID, Identity{ID: userID, Nickname: nickname}, 64)
}
