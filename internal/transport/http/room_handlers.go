package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/proto"
	"github.com/vovakirdan/studyroom-server/internal/store"
)

// RoomHandlers serves read-only room views.
type RoomHandlers struct {
	store   store.RoomStore
	gateway *core.Gateway
	log     *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.RoomStore, gateway *core.Gateway, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store:   st,
		gateway: gateway,
		log:     logger,
	}
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	// Online lists users with at least one live connection in the room on
	// this instance.
	Online []string `json:"online"`
}

// GetRoom returns a room and who is currently connected to it.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	room, err := h.store.GetRoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	online := h.gateway.Presence().Present(room.ID)
	if online == nil {
		online = []string{}
	}
	c.JSON(http.StatusOK, RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		Online:    online,
	})
}

// ListMembers returns the room's open memberships, oldest join first.
// GET /api/rooms/:id/members
func (h *RoomHandlers) ListMembers(c *gin.Context) {
	roomID := c.Param("id")
	exists, err := h.store.RoomExists(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to check room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	members, err := h.gateway.Members(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Debug().Str("room_id", roomID).Int("member_count", len(members)).Msg("members listed")
	c.JSON(http.StatusOK, proto.EventMembers{RoomID: roomID, Items: memberItems(members)})
}
