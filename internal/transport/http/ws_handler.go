package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studyroom-server/internal/auth"
	"github.com/vovakirdan/studyroom-server/internal/config"
	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/proto"
)

const (
	// subprotocol is negotiated when the client offers it.
	subprotocol = "studyroom"
	// tokenProtocolPrefix marks the offered subprotocol that carries the
	// access token, the only connect-time payload a browser can send.
	tokenProtocolPrefix = "access_token."
)

var (
	errHandshakeTimeout   = errors.New("no credential before handshake timeout")
	errUnsupportedVersion = errors.New("unsupported protocol version")
)

// WSHandler upgrades HTTP connections, authenticates them and bridges them
// to core.Client.
type WSHandler struct {
	gateway *core.Gateway
	auth    *auth.Service
	cfg     *config.Config
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(gateway *core.Gateway, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{gateway: gateway, auth: authService, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan proto.Inbound)
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(ctx, conn, frames)
	}()

	principal, err := h.handshake(ctx, r, frames)
	if err != nil {
		h.rejectHandshake(ctx, conn, err)
		return
	}

	client := core.NewClient(uuid.NewString(), core.Identity{
		ID:       principal.UserID,
		Nickname: principal.Nickname,
	}, h.cfg.EventBuffer)
	logger := h.log.With().Str("client_id", client.ID).Str("user_id", client.Identity.ID).Logger()
	logger.Debug().Msg("ws client authenticated")

	served, err := h.gateway.Start(ctx, client)
	if err != nil {
		_ = writeError(ctx, conn, core.ErrCodeInternal, "server is shutting down")
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	writeErr := make(chan error, 1)
	go func() {
		err := h.writeLoop(ctx, conn, client)
		if err != nil {
			cancel()
		}
		writeErr <- err
	}()

	limiter := newRateLimiter(h.cfg.RateLimitPerMinute, time.Minute)
	for inbound := range frames {
		if !h.dispatch(ctx, conn, client, limiter, inbound) {
			break
		}
	}

	// No more commands: let the gateway drain and release every joined room.
	close(client.Commands)
	<-served
	close(client.Events)
	werr := <-writeErr
	cancel()
	rerr := <-readErr

	err = rerr
	if err == nil || errors.Is(err, context.Canceled) {
		err = werr
	}
	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		logger.Warn().Err(err).Msg("ws connection closed with error")
	}
	conn.Close(status, reason)
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{Subprotocols: []string{subprotocol}}
	patterns := originPatterns(h.cfg.AllowedOrigins)
	if len(patterns) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = patterns
	}
	return opts
}

// originPatterns turns configured origins ("https://app.example.com") into
// host patterns understood by websocket.Accept.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, origin := range origins {
		if origin == "" || origin == "*" {
			return nil
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}

// protocolToken returns the token offered as an "access_token.<jwt>"
// subprotocol, if any.
func protocolToken(r *stdhttp.Request) string {
	for _, value := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, offered := range strings.Split(value, ",") {
			offered = strings.TrimSpace(offered)
			if token, ok := strings.CutPrefix(offered, tokenProtocolPrefix); ok && token != "" {
				return token
			}
		}
	}
	return ""
}

// handshake resolves the connection's identity. Credentials are taken in
// order from the auth payload offered with the upgrade, the token query
// parameter and the Authorization header. Without any of them the first
// frame must be an auth frame sent within the handshake timeout.
func (h *WSHandler) handshake(ctx context.Context, r *stdhttp.Request, frames <-chan proto.Inbound) (*auth.Principal, error) {
	query := r.URL.Query()
	if v := query.Get("protocol"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n != proto.ProtocolVersion {
			return nil, errUnsupportedVersion
		}
	}

	if credential := protocolToken(r); credential != "" {
		return h.auth.Authenticate(ctx, credential)
	}
	if credential := query.Get("token"); credential != "" {
		return h.auth.Authenticate(ctx, credential)
	}
	if credential := r.Header.Get("Authorization"); credential != "" {
		return h.auth.Authenticate(ctx, credential)
	}

	timer := time.NewTimer(h.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case inbound, ok := <-frames:
		if !ok {
			return nil, io.EOF
		}
		if inbound.Type != proto.InboundTypeAuth {
			return nil, fmt.Errorf("%w: expected auth frame, got %q", auth.ErrInvalidToken, inbound.Type)
		}
		var data proto.AuthData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: malformed auth frame", auth.ErrInvalidToken)
		}
		if data.Protocol != 0 && data.Protocol != proto.ProtocolVersion {
			return nil, errUnsupportedVersion
		}
		return h.auth.Authenticate(ctx, data.Token)
	case <-timer.C:
		return nil, errHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rejectHandshake reports a failed handshake and closes the connection.
// There is no retry on the same connection.
func (h *WSHandler) rejectHandshake(ctx context.Context, conn *websocket.Conn, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
		return
	}

	code, msg := core.ErrCodeUnauthorized, "unauthorized"
	if errors.Is(err, errUnsupportedVersion) {
		code, msg = core.ErrCodeUnsupportedVer, fmt.Sprintf("server speaks protocol %d", proto.ProtocolVersion)
	}
	h.log.Debug().Err(err).Str("code", code).Msg("ws handshake rejected")

	writeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = wsjson.Write(writeCtx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Message: msg},
	})
	conn.Close(websocket.StatusPolicyViolation, code)
}

// readLoop parses inbound frames and hands them to the dispatcher. Frames
// that are not valid JSON envelopes are answered with invalid_message and
// skipped.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, frames chan<- proto.Inbound) error {
	defer close(frames)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if typ != websocket.MessageText || json.Unmarshal(data, &inbound) != nil || inbound.Type == "" {
			if err := writeError(ctx, conn, core.ErrCodeInvalidMessage, "expected a JSON text frame with a type"); err != nil {
				return err
			}
			continue
		}

		select {
		case frames <- inbound:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch maps one frame to a command. It returns false when the
// connection should stop reading.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rateLimiter, inbound proto.Inbound) bool {
	if !limiter.allow() {
		return writeError(ctx, conn, core.ErrCodeRateLimited, "too many messages") == nil
	}

	cmd, protoErr := inboundToCommand(inbound)
	if protoErr != nil {
		return writeError(ctx, conn, protoErr.Code, protoErr.Message) == nil
	}

	select {
	case client.Commands <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Message: msg},
	})
}

// closeStatus picks the close frame for a finished connection.
func closeStatus(err error) (websocket.StatusCode, string) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return websocket.StatusNormalClosure, "closing"
	}
	switch s := websocket.CloseStatus(err); s {
	case -1:
		return websocket.StatusInternalError, "internal error"
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return websocket.StatusNormalClosure, "closing"
	default:
		return s, "closing"
	}
}
