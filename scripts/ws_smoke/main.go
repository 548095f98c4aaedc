// Command ws_smoke connects to a running server, joins a room, optionally
// publishes a status and prints every frame it receives until the timeout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/studyroom-server/internal/auth"
	"github.com/vovakirdan/studyroom-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "access token; minted from -secret when empty")
	secret := flag.String("secret", "change-me", "JWT secret used to mint a dev token")
	issuer := flag.String("issuer", "", "JWT issuer used to mint a dev token")
	userID := flag.String("user", "", "user id for the minted token")
	nickname := flag.String("nickname", "tester", "nickname for the minted token")
	room := flag.String("room", "", "room id to join")
	status := flag.String("status", "", "status to publish after joining (learning, rest, idle)")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *room == "" {
		return errors.New("-room is required")
	}
	if *token == "" {
		if *userID == "" {
			return errors.New("-user is required when no -token is given")
		}
		minted, err := auth.GenerateToken(&auth.JWTConfig{
			Secret: []byte(*secret),
			Issuer: *issuer,
			TTL:    time.Hour,
		}, *userID, *nickname)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		*token = minted
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeAuth, proto.AuthData{Token: *token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeJoin, proto.RoomData{RoomID: *room}); err != nil {
		return err
	}
	if *status != "" {
		if err := send(proto.InboundTypeStatusUpdate, proto.StatusData{RoomID: *room, Status: *status}); err != nil {
			return err
		}
	}

	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if frame.Error != nil {
			fmt.Printf("error: code=%s message=%q\n", frame.Error.Code, frame.Error.Message)
			if frame.Error.Code == "unauthorized" || frame.Error.Code == "unsupported_version" {
				return errors.New("handshake rejected")
			}
			continue
		}
		fmt.Printf("event=%s data=%s\n", frame.Event, frame.Data)
	}
}
