package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler closes open membership rows that have no live connection behind
// them: rows left by a previous process, and rows whose close write failed.
type Reconciler struct {
	gateway  *Gateway
	interval time.Duration
	log      *zerolog.Logger
}

// NewReconciler creates a reconciler for g. A non-positive interval means a
// single sweep at start.
func NewReconciler(g *Gateway, interval time.Duration, logger *zerolog.Logger) *Reconciler {
	if logger == nil {
		logger = g.log
	}
	return &Reconciler{gateway: g, interval: interval, log: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.sweepAndLog(ctx)
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepAndLog(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Reconciler) sweepAndLog(ctx context.Context) {
	closed, err := r.Sweep(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("membership reconcile failed")
		return
	}
	if closed > 0 {
		r.log.Info().Int("closed", closed).Msg("closed stale memberships")
	}
}

// Sweep closes every open row whose (room, user) pair has no connections and
// broadcasts user_left for each row it closed. Returns the number closed.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	g := r.gateway
	rows, err := g.members.ListOpenMemberships(ctx)
	if err != nil {
		g.metrics.PersistenceError("list_open")
		return 0, err
	}

	closed := 0
	for _, m := range rows {
		if ctx.Err() != nil {
			break
		}
		if r.closeIfAbsent(ctx, m.UserID, m.RoomID) {
			closed++
		}
	}
	g.metrics.Reconciled(closed)
	return closed, ctx.Err()
}

func (r *Reconciler) closeIfAbsent(ctx context.Context, user, room string) bool {
	g := r.gateway
	unlock := g.locks.lock(room, user)
	defer unlock()

	if g.presence.Count(room, user) > 0 {
		return false
	}
	ok, err := g.members.CloseMembership(ctx, user, room)
	if err != nil {
		g.metrics.PersistenceError("close")
		r.log.Warn().Err(err).Str("room", room).Str("user_id", user).Msg("reconcile close failed")
		return false
	}
	if ok {
		g.fanout.Publish(room, &Event{Kind: EventUserLeft, Room: room, UserID: user}, nil)
	}
	return ok
}
