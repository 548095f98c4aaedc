package http

import (
	"encoding/json"

	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave:
		var data proto.RoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Message: "invalid payload"}
		}
		if data.RoomID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Message: "roomId is required"}
		}
		kind := core.CommandJoinRoom
		if inbound.Type == proto.InboundTypeLeave {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{Kind: kind, Room: data.RoomID}, nil
	case proto.InboundTypeStatusUpdate:
		var data proto.StatusData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Message: "invalid payload"}
		}
		if data.RoomID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Message: "roomId is required"}
		}
		return &core.Command{Kind: core.CommandUpdateStatus, Room: data.RoomID, Status: data.Status}, nil
	case proto.InboundTypeAuth:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Message: "already authenticated"}
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Message: "unknown message type"}
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventUserJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserJoinedName,
			Data: proto.EventUserJoined{
				RoomID: event.Room,
				User:   proto.UserRef{ID: event.User.ID, Nickname: event.User.Nickname},
			},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserLeftName,
			Data:  proto.EventUserLeft{RoomID: event.Room, UserID: event.UserID},
		}
	case core.EventStatusChanged:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventStatusChangedName,
			Data: proto.EventStatusChanged{
				RoomID: event.Room,
				UserID: event.UserID,
				Status: string(event.Status),
			},
		}
	case core.EventMembers:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMembersName,
			Data:  proto.EventMembers{RoomID: event.Room, Items: memberItems(event.Members)},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Message: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Message: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

// memberItems never returns nil so an empty room encodes as [].
func memberItems(members []core.Member) []proto.MemberItem {
	items := make([]proto.MemberItem, 0, len(members))
	for _, m := range members {
		items = append(items, proto.MemberItem{
			UserID:    m.UserID,
			Nickname:  m.Nickname,
			AvatarURL: m.AvatarURL,
			Status:    string(m.Status),
			JoinedAt:  m.JoinedAt,
		})
	}
	return items
}
