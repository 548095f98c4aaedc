package http

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/studyroom-server/internal/config"
	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestJoinEmptyRoomReturnsSelfSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.user(t, "alice")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, token)
	join(ctx, t, conn, room)

	f := read(ctx, t, conn)
	if f.Event != proto.EventMembersName {
		t.Fatalf("expected members snapshot, got %+v", f)
	}
	var snap proto.EventMembers
	expectDecode(t, f, &snap)
	if snap.RoomID != room {
		t.Fatalf("snapshot for wrong room: %s", snap.RoomID)
	}
	// The joiner's own row is already open when the snapshot is taken.
	if len(snap.Items) != 1 || snap.Items[0].Nickname != "alice" || snap.Items[0].Status != "idle" {
		t.Fatalf("unexpected snapshot: %+v", snap.Items)
	}
}

func TestJoinBroadcastAndSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceID, aliceToken := env.user(t, "alice")
	bobID, bobToken := env.user(t, "bob")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.dial(ctx, t, aliceToken)
	join(ctx, t, alice, room)
	expectEvent(ctx, t, alice, proto.EventMembersName, nil)

	bob := env.dial(ctx, t, bobToken)
	join(ctx, t, bob, room)

	var joined proto.EventUserJoined
	expectEvent(ctx, t, alice, proto.EventUserJoinedName, &joined)
	if joined.RoomID != room || joined.User.ID != bobID || joined.User.Nickname != "bob" {
		t.Fatalf("unexpected user_joined: %+v", joined)
	}

	// The joiner gets the snapshot, not its own user_joined.
	var snap proto.EventMembers
	expectEvent(ctx, t, bob, proto.EventMembersName, &snap)
	if len(snap.Items) != 2 || snap.Items[0].UserID != aliceID || snap.Items[1].UserID != bobID {
		t.Fatalf("unexpected snapshot: %+v", snap.Items)
	}
}

func TestSecondConnectionOfSameUserIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceToken := env.user(t, "alice")
	bobID, bobToken := env.user(t, "bob")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.dial(ctx, t, aliceToken)
	join(ctx, t, alice, room)
	expectEvent(ctx, t, alice, proto.EventMembersName, nil)

	bob1 := env.dial(ctx, t, bobToken)
	join(ctx, t, bob1, room)
	expectEvent(ctx, t, bob1, proto.EventMembersName, nil)
	expectEvent(ctx, t, alice, proto.EventUserJoinedName, nil)

	bob2 := env.dial(ctx, t, bobToken)
	join(ctx, t, bob2, room)
	var snap proto.EventMembers
	expectEvent(ctx, t, bob2, proto.EventMembersName, &snap)
	if len(snap.Items) != 2 {
		t.Fatalf("second tab should see two members, got %+v", snap.Items)
	}
	env.waitCount(t, room, bobID, 2)
	barrier(ctx, t, alice)

	bob2.Close(websocket.StatusNormalClosure, "tab closed")
	env.waitCount(t, room, bobID, 1)
	barrier(ctx, t, alice)

	bob1.Close(websocket.StatusNormalClosure, "tab closed")
	var left proto.EventUserLeft
	expectEvent(ctx, t, alice, proto.EventUserLeftName, &left)
	if left.UserID != bobID || left.RoomID != room {
		t.Fatalf("unexpected user_left: %+v", left)
	}
}

func TestExplicitLeaveBroadcastsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceToken := env.user(t, "alice")
	bobID, bobToken := env.user(t, "bob")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.dial(ctx, t, aliceToken)
	join(ctx, t, alice, room)
	expectEvent(ctx, t, alice, proto.EventMembersName, nil)

	bob := env.dial(ctx, t, bobToken)
	join(ctx, t, bob, room)
	expectEvent(ctx, t, bob, proto.EventMembersName, nil)
	expectEvent(ctx, t, alice, proto.EventUserJoinedName, nil)

	send(ctx, t, bob, proto.InboundTypeLeave, proto.RoomData{RoomID: room})
	var left proto.EventUserLeft
	expectEvent(ctx, t, alice, proto.EventUserLeftName, &left)
	if left.UserID != bobID {
		t.Fatalf("unexpected user_left: %+v", left)
	}

	send(ctx, t, bob, proto.InboundTypeLeave, proto.RoomData{RoomID: room})
	expectError(ctx, t, bob, core.ErrCodeNotInRoom)

	// Closing after the leave must not announce the user again.
	bob.Close(websocket.StatusNormalClosure, "bye")
	env.waitCount(t, room, bobID, 0)
	barrier(ctx, t, alice)
}

func TestStatusUpdateBroadcastsToEveryone(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceToken := env.user(t, "alice")
	bobID, bobToken := env.user(t, "bob")
	_, carolToken := env.user(t, "carol")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.dial(ctx, t, aliceToken)
	join(ctx, t, alice, room)
	expectEvent(ctx, t, alice, proto.EventMembersName, nil)

	bob := env.dial(ctx, t, bobToken)
	join(ctx, t, bob, room)
	expectEvent(ctx, t, bob, proto.EventMembersName, nil)
	expectEvent(ctx, t, alice, proto.EventUserJoinedName, nil)

	send(ctx, t, bob, proto.InboundTypeStatusUpdate, proto.StatusData{RoomID: room, Status: "learning"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var changed proto.EventStatusChanged
		expectEvent(ctx, t, conn, proto.EventStatusChangedName, &changed)
		if changed.UserID != bobID || changed.Status != "learning" || changed.RoomID != room {
			t.Fatalf("unexpected status_changed: %+v", changed)
		}
	}

	carol := env.dial(ctx, t, carolToken)
	join(ctx, t, carol, room)
	var snap proto.EventMembers
	expectEvent(ctx, t, carol, proto.EventMembersName, &snap)
	found := false
	for _, item := range snap.Items {
		if item.UserID == bobID {
			found = item.Status == "learning"
		}
	}
	if !found {
		t.Fatalf("snapshot should carry bob's status: %+v", snap.Items)
	}
}

func TestCommandErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.user(t, "alice")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, token)

	join(ctx, t, conn, "no-such-room")
	expectError(ctx, t, conn, core.ErrCodeRoomNotFound)

	send(ctx, t, conn, proto.InboundTypeStatusUpdate, proto.StatusData{RoomID: room, Status: "learning"})
	expectError(ctx, t, conn, core.ErrCodeNotInRoom)

	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{})
	expectError(ctx, t, conn, core.ErrCodeBadRequest)

	join(ctx, t, conn, room)
	expectEvent(ctx, t, conn, proto.EventMembersName, nil)

	send(ctx, t, conn, proto.InboundTypeStatusUpdate, proto.StatusData{RoomID: room, Status: "sleeping"})
	expectError(ctx, t, conn, core.ErrCodeBadRequest)

	send(ctx, t, conn, "room.dance", proto.RoomData{RoomID: room})
	expectError(ctx, t, conn, core.ErrCodeInvalidMessage)

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	expectError(ctx, t, conn, core.ErrCodeInvalidMessage)

	send(ctx, t, conn, proto.InboundTypeAuth, proto.AuthData{Token: token})
	expectError(ctx, t, conn, core.ErrCodeBadRequest)

	// The connection survives every error above.
	join(ctx, t, conn, room)
	expectEvent(ctx, t, conn, proto.EventMembersName, nil)
}

func TestRateLimitedConnection(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimitPerMinute = 2
	})
	_, token := env.user(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, token)
	barrier(ctx, t, conn)
	barrier(ctx, t, conn)

	send(ctx, t, conn, proto.InboundTypeLeave, proto.RoomData{RoomID: barrierRoom})
	expectError(ctx, t, conn, core.ErrCodeRateLimited)
}

func TestDisconnectClosesMembership(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceID, token := env.user(t, "alice")
	room := env.room(t, "math")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, token)
	join(ctx, t, conn, room)
	expectEvent(ctx, t, conn, proto.EventMembersName, nil)

	conn.Close(websocket.StatusNormalClosure, "bye")
	env.waitCount(t, room, aliceID, 0)

	deadline := time.Now().Add(2 * time.Second)
	for {
		members, err := env.store.ListOpenMembers(ctx, room)
		if err != nil {
			t.Fatalf("list members: %v", err)
		}
		if len(members) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("membership still open after disconnect: %+v", members)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"https://app.example.com", "localhost:5173"})
	if len(got) != 2 || got[0] != "app.example.com" || got[1] != "localhost:5173" {
		t.Fatalf("unexpected patterns: %v", got)
	}
	if originPatterns([]string{"*"}) != nil {
		t.Fatalf("wildcard should disable origin checks")
	}
}
