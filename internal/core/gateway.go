package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/studyroom-server/internal/metrics"
	"github.com/vovakirdan/studyroom-server/internal/presence"
	"github.com/vovakirdan/studyroom-server/internal/store"
)

// RoomRepository answers whether a room exists. Rooms are managed elsewhere.
type RoomRepository interface {
	RoomExists(ctx context.Context, id string) (bool, error)
}

// Options tunes a Gateway.
type Options struct {
	// CleanupTimeout bounds the store writes made while tearing down a
	// disconnected client.
	CleanupTimeout time.Duration
}

// Gateway routes room commands from connections to the presence tracker,
// the membership store and the fanout.
//
// Every presence transition for a (room, user) pair and the membership
// write that follows it happen under the pair's lock, so the tracker and the
// open membership row change together. The counter is updated first; if the
// open write fails the share is given back before the lock is released.
type Gateway struct {
	rooms    RoomRepository
	members  store.MembershipStore
	presence *presence.Tracker
	fanout   *Fanout
	status   *StatusSync
	locks    *pairLocks
	opts     Options

	// trackMu orders serving.Add against the start of Wait.
	trackMu  sync.Mutex
	draining bool
	serving  sync.WaitGroup

	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// NewGateway wires a gateway. logger and m may be nil.
func NewGateway(
	rooms RoomRepository,
	members store.MembershipStore,
	tracker *presence.Tracker,
	logger *zerolog.Logger,
	m *metrics.Metrics,
	opts Options,
) *Gateway {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 5 * time.Second
	}
	g := &Gateway{
		rooms:    rooms,
		members:  members,
		presence: tracker,
		fanout:   NewFanout(logger, m),
		locks:    newPairLocks(),
		opts:     opts,
		log:      logger,
		metrics:  m,
	}
	g.status = &StatusSync{members: members, fanout: g.fanout, locks: g.locks, metrics: m}
	return g
}

// Presence exposes the tracker for read-only use (metrics, reconciliation).
func (g *Gateway) Presence() *presence.Tracker {
	return g.presence
}

// Fanout exposes the broadcast channels.
func (g *Gateway) Fanout() *Fanout {
	return g.fanout
}

// track registers a connection with Wait. It reports false once Wait has
// begun.
func (g *Gateway) track() bool {
	g.trackMu.Lock()
	defer g.trackMu.Unlock()
	if g.draining {
		return false
	}
	g.serving.Add(1)
	return true
}

// Start registers c and serves it in a new goroutine. The returned channel
// is closed once Serve has returned. c is accounted for by Wait before Start
// returns; after Wait has begun Start fails with ErrShuttingDown.
func (g *Gateway) Start(ctx context.Context, c *Client) (<-chan struct{}, error) {
	if !g.track() {
		return nil, ErrShuttingDown
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer g.serving.Done()
		g.serve(ctx, c)
	}()
	return done, nil
}

// Serve processes c's commands in arrival order until c.Commands is closed
// or ctx is done, then tears down every room c still holds. Domain errors
// are reported to c as EventError; the connection stays usable.
//
// Serve returns immediately once Wait has begun. Callers that run it on a
// new goroutine should use Start.
func (g *Gateway) Serve(ctx context.Context, c *Client) {
	if !g.track() {
		return
	}
	defer g.serving.Done()
	g.serve(ctx, c)
}

func (g *Gateway) serve(ctx context.Context, c *Client) {
	logger := g.log.With().Str("client_id", c.ID).Str("user_id", c.Identity.ID).Logger()
	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.CleanupTimeout)
		defer cancel()
		g.Disconnect(cleanupCtx, c)
	}()

	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			if cmd == nil {
				continue
			}
			if err := g.Handle(ctx, c, cmd); err != nil {
				ce := ToCoreError(err)
				logger.Debug().Err(err).Str("command", cmd.Kind.String()).Str("room", cmd.Room).Msg("command failed")
				if ce.Code == ErrCodeInternal {
					logger.Error().Err(err).Str("command", cmd.Kind.String()).Msg("unexpected command error")
				}
				if sendErr := c.deliver(ctx, &Event{Kind: EventError, Room: cmd.Room, Error: ce}); sendErr != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Wait stops accepting connections and blocks until every served one has
// returned, including its disconnect cleanup, or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	g.trackMu.Lock()
	g.draining = true
	g.trackMu.Unlock()

	done := make(chan struct{})
	go func() {
		g.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle executes one command for c.
func (g *Gateway) Handle(ctx context.Context, c *Client, cmd *Command) error {
	if cmd.Room == "" {
		return fmt.Errorf("%w: room is required", ErrBadRequest)
	}
	switch cmd.Kind {
	case CommandJoinRoom:
		return g.Join(ctx, c, cmd.Room)
	case CommandLeaveRoom:
		return g.Leave(ctx, c, cmd.Room)
	case CommandUpdateStatus:
		return g.status.Update(ctx, c, cmd.Room, cmd.Status)
	default:
		return fmt.Errorf("%w: unknown command", ErrBadRequest)
	}
}

// Join adds c to room. On the user's first connection in the room an open
// membership row is ensured and user_joined is sent to the other
// subscribers. The joining connection always receives a members snapshot.
func (g *Gateway) Join(ctx context.Context, c *Client, room string) error {
	if c.InRoom(room) {
		return g.sendMembers(ctx, c, room)
	}

	exists, err := g.rooms.RoomExists(ctx, room)
	if err != nil {
		g.metrics.PersistenceError("room_exists")
		return fmt.Errorf("%w: check room: %w", ErrPersistence, err)
	}
	if !exists {
		return ErrRoomNotFound
	}

	c.addRoom(room)
	g.fanout.Subscribe(room, c)

	if err := g.acquire(ctx, c, room); err != nil {
		c.removeRoom(room)
		g.fanout.Unsubscribe(room, c)
		return err
	}

	return g.sendMembers(ctx, c, room)
}

func (g *Gateway) acquire(ctx context.Context, c *Client, room string) error {
	user := c.Identity.ID
	unlock := g.locks.lock(room, user)
	defer unlock()

	if !g.presence.Acquire(room, user) {
		return nil
	}

	if _, err := g.members.OpenMembership(ctx, user, room, string(StatusIdle)); err != nil {
		// Give the share back so the counter does not claim a presence the
		// store never recorded.
		g.presence.Release(room, user)
		g.metrics.PersistenceError("open")
		g.log.Error().Err(err).Str("room", room).Str("user_id", user).Msg("open membership failed")
		return fmt.Errorf("%w: open membership: %w", ErrPersistence, err)
	}

	g.metrics.Joined()
	g.fanout.Publish(room, &Event{Kind: EventUserJoined, Room: room, User: c.Identity}, c)
	g.log.Debug().Str("room", room).Str("user_id", user).Msg("user joined room")
	return nil
}

// Leave removes c from room. If c was the user's last connection there the
// open membership row is closed and user_left is broadcast.
func (g *Gateway) Leave(ctx context.Context, c *Client, room string) error {
	if !c.removeRoom(room) {
		return ErrNotInRoom
	}
	g.fanout.Unsubscribe(room, c)
	return g.release(ctx, c.Identity.ID, room)
}

// Disconnect releases every room c still holds. It is idempotent: a second
// call finds the room set empty, and a share that is already gone is
// ignored. Store failures are logged; the reconciler closes rows left open.
func (g *Gateway) Disconnect(ctx context.Context, c *Client) {
	for _, room := range c.Rooms() {
		c.removeRoom(room)
		g.fanout.Unsubscribe(room, c)
		if err := g.release(ctx, c.Identity.ID, room); err != nil {
			g.log.Warn().Err(err).Str("client_id", c.ID).Str("room", room).Msg("disconnect cleanup failed")
		}
	}
}

func (g *Gateway) release(ctx context.Context, user, room string) error {
	unlock := g.locks.lock(room, user)
	defer unlock()

	switch g.presence.Release(room, user) {
	case presence.StillPresent:
		return nil
	case presence.AlreadyAbsent:
		g.log.Debug().Str("room", room).Str("user_id", user).Msg("release of absent presence entry")
		return nil
	}

	g.metrics.Left()
	if _, err := g.members.CloseMembership(ctx, user, room); err != nil {
		// The row stays open with no live connection behind it; the
		// reconciler closes it and broadcasts user_left then.
		g.metrics.PersistenceError("close")
		g.log.Error().Err(err).Str("room", room).Str("user_id", user).Msg("close membership failed")
		return fmt.Errorf("%w: close membership: %w", ErrPersistence, err)
	}

	g.fanout.Publish(room, &Event{Kind: EventUserLeft, Room: room, UserID: user}, nil)
	g.log.Debug().Str("room", room).Str("user_id", user).Msg("user left room")
	return nil
}

// Members returns the open memberships of room as a snapshot.
func (g *Gateway) Members(ctx context.Context, room string) ([]Member, error) {
	rows, err := g.members.ListOpenMembers(ctx, room)
	if err != nil {
		g.metrics.PersistenceError("list")
		return nil, fmt.Errorf("%w: list members: %w", ErrPersistence, err)
	}
	members := make([]Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, Member{
			UserID:    r.UserID,
			Nickname:  r.Nickname,
			AvatarURL: r.AvatarURL,
			Status:    Status(r.Status),
			JoinedAt:  r.JoinedAt,
		})
	}
	return members, nil
}

func (g *Gateway) sendMembers(ctx context.Context, c *Client, room string) error {
	members, err := g.Members(ctx, room)
	if err != nil {
		return err
	}
	return c.deliver(ctx, &Event{Kind: EventMembers, Room: room, Members: members})
}
