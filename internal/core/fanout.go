package core

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/studyroom-server/internal/metrics"
)

// channel groups the connections subscribed to one room.
type channel struct {
	clients map[*Client]struct{}
}

func newChannel() *channel {
	return &channel{clients: make(map[*Client]struct{})}
}

// Fanout delivers room events to every subscribed connection. Connections of
// the same user each receive their own copy.
type Fanout struct {
	mu       sync.RWMutex
	channels map[string]*channel

	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// NewFanout creates an empty fanout.
func NewFanout(logger *zerolog.Logger, m *metrics.Metrics) *Fanout {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Fanout{
		channels: make(map[string]*channel),
		log:      logger,
		metrics:  m,
	}
}

// Subscribe adds c to room's channel. Returns true if newly added.
func (f *Fanout) Subscribe(room string, c *Client) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[room]
	if !ok {
		ch = newChannel()
		f.channels[room] = ch
	}
	if _, exists := ch.clients[c]; exists {
		return false
	}
	ch.clients[c] = struct{}{}
	return true
}

// Unsubscribe removes c from room's channel. Empty channels are dropped.
func (f *Fanout) Unsubscribe(room string, c *Client) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[room]
	if !ok {
		return false
	}
	if _, exists := ch.clients[c]; !exists {
		return false
	}
	delete(ch.clients, c)
	if len(ch.clients) == 0 {
		delete(f.channels, room)
	}
	return true
}

// Publish sends ev to every subscriber of room except the given connection
// (which may be nil). Slow consumers drop the event; the members snapshot
// on their next join repairs their view. Returns the number of deliveries.
func (f *Fanout) Publish(room string, ev *Event, except *Client) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ch, ok := f.channels[room]
	if !ok {
		return 0
	}
	delivered := 0
	for c := range ch.clients {
		if c == except {
			continue
		}
		if c.offer(ev) {
			delivered++
			continue
		}
		f.metrics.EventDropped(ev.Kind.String())
		f.log.Warn().
			Str("client_id", c.ID).
			Str("room", room).
			Str("event", ev.Kind.String()).
			Msg("dropping event for slow consumer")
	}
	return delivered
}

// Subscribers returns the number of connections subscribed to room.
func (f *Fanout) Subscribers(room string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if ch, ok := f.channels[room]; ok {
		return len(ch.clients)
	}
	return 0
}
