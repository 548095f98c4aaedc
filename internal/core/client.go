package core

import (
	"context"
	"sort"
	"sync"
)

// Identity is the authenticated user behind a connection. It never changes
// for the lifetime of the connection.
type Identity struct {
	ID       string
	Nickname string
}

// Client is one live connection as seen by the core layer: an identity plus
// the set of rooms this connection has joined.
type Client struct {
	ID       string
	Identity Identity
	Commands chan *Command
	Events   chan *Event

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewClient constructs a client with initialized channels.
// buffer sizes the event channel; values below 1 fall back to 16.
func NewClient(id string, identity Identity, buffer int) *Client {
	if identity.Nickname == "" {
		identity.Nickname = identity.ID
	}
	if buffer < 1 {
		buffer = 16
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, buffer),
		rooms:    make(map[string]struct{}),
	}
}

// InRoom reports whether this connection has joined room.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns the joined rooms, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Client) addRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Client) removeRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	return true
}

// offer queues a broadcast event without blocking. Returns false if the
// buffer is full.
func (c *Client) offer(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// deliver queues a unicast event, waiting for buffer space until ctx is done.
func (c *Client) deliver(ctx context.Context, ev *Event) error {
	select {
	case c.Events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
