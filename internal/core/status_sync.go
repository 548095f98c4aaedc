package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/studyroom-server/internal/metrics"
	"github.com/vovakirdan/studyroom-server/internal/store"
)

// StatusSync applies status updates. It is the single place that enforces
// that a connection must have joined a room before changing its status there.
type StatusSync struct {
	members store.MembershipStore
	fanout  *Fanout
	locks   *pairLocks
	metrics *metrics.Metrics
}

// Update persists status for c's user in room and broadcasts status_changed
// to every subscriber of the room, the sender included.
func (s *StatusSync) Update(ctx context.Context, c *Client, room, raw string) error {
	if !c.InRoom(room) {
		return ErrNotInRoom
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return err
	}

	user := c.Identity.ID
	unlock := s.locks.lock(room, user)
	defer unlock()

	if err := s.members.UpdateMemberStatus(ctx, user, room, string(status)); err != nil {
		if errors.Is(err, store.ErrNoOpenMembership) {
			return fmt.Errorf("%w: no open membership", ErrNotInRoom)
		}
		s.metrics.PersistenceError("update_status")
		return fmt.Errorf("%w: update status: %w", ErrPersistence, err)
	}

	s.fanout.Publish(room, &Event{Kind: EventStatusChanged, Room: room, UserID: user, Status: status}, nil)
	return nil
}
