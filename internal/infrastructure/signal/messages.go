package signal

import (
	"encoding/json"

	"zonecast/internal/core/domain"
)

// Request message types. Everything except the mesh relay, move and
// sfu:leave messages is answered with a correlated ack.
const (
	MsgRoomJoin  = "room:join"
	MsgRoomLeave = "room:leave"
	MsgMove      = "move"

	MsgSFUJoin             = "sfu:join"
	MsgSFUCreateTransport  = "sfu:createTransport"
	MsgSFUConnectTransport = "sfu:connectTransport"
	MsgSFUProduce          = "sfu:produce"
	MsgSFUConsume          = "sfu:consume"
	MsgSFUResume           = "sfu:resume"
	MsgSFULeave            = "sfu:leave"
	MsgSFUMediaState       = "sfu:mediaState"
)

// Push message types originated by the server.
const (
	MsgRoomRoster   = "room:roster"
	MsgRoomUserJoin = "room:user-joined"
	MsgRoomUserLeft = "room:user-left"
)

// Message is the envelope for every frame on the signaling socket.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Envelope is the outgoing counterpart with a concrete payload.
type Envelope struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// ErrorInfo is the typed failure carried in a negative ack.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack is the payload of an acknowledgement frame (type "ack").
type Ack struct {
	OK    bool        `json:"ok"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

const MsgAck = "ack"

// MeshRelayPayload addresses an offer/answer/candidate at another user.
type MeshRelayPayload struct {
	TargetUserID domain.UserID `json:"target_user_id"`
	SDP          string        `json:"sdp,omitempty"`
	Candidate    string        `json:"candidate,omitempty"`
}

type RoomJoinPayload struct {
	RoomID   domain.RoomID   `json:"room_id"`
	Position domain.Position `json:"position"`
}

type RoomLeavePayload struct {
	RoomID domain.RoomID `json:"room_id"`
}

type MovePayload struct {
	RoomID   domain.RoomID   `json:"room_id"`
	Position domain.Position `json:"position"`
}

// MoveBroadcast fans a movement out to the other room members.
type MoveBroadcast struct {
	RoomID   domain.RoomID   `json:"room_id"`
	UserID   domain.UserID   `json:"user_id"`
	Position domain.Position `json:"position"`
}

// RosterPush delivers the current roster snapshot to a joining user.
type RosterPush struct {
	RoomID domain.RoomID        `json:"room_id"`
	Roster []domain.RosterEntry `json:"roster"`
}

// PresencePush announces one user's arrival or departure.
type PresencePush struct {
	RoomID   domain.RoomID   `json:"room_id"`
	UserID   domain.UserID   `json:"user_id"`
	Position domain.Position `json:"position,omitempty"`
}

type SFUJoinPayload struct {
	RoomID    domain.RoomID    `json:"room_id"`
	ChannelID domain.ChannelID `json:"channel_id"`
}

type SFUCreateTransportPayload struct {
	RoomID    domain.RoomID            `json:"room_id"`
	ChannelID domain.ChannelID         `json:"channel_id"`
	Direction domain.TransportDirection `json:"direction"`
}

type SFUConnectTransportPayload struct {
	RoomID      domain.RoomID         `json:"room_id"`
	ChannelID   domain.ChannelID      `json:"channel_id"`
	TransportID domain.TransportID    `json:"transport_id"`
	DTLS        domain.DTLSParameters `json:"dtls_parameters"`
}

type SFUProducePayload struct {
	RoomID        domain.RoomID        `json:"room_id"`
	ChannelID     domain.ChannelID     `json:"channel_id"`
	TransportID   domain.TransportID   `json:"transport_id"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters domain.RTPParameters `json:"rtp_parameters"`
}

// SFUProduceResult is the positive ack data for sfu:produce.
type SFUProduceResult struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

type SFUConsumePayload struct {
	RoomID       domain.RoomID          `json:"room_id"`
	ChannelID    domain.ChannelID       `json:"channel_id"`
	TransportID  domain.TransportID     `json:"transport_id"`
	ProducerID   domain.ProducerID      `json:"producer_id"`
	Capabilities domain.RTPCapabilities `json:"receiver_capabilities"`
}

type SFUResumePayload struct {
	RoomID     domain.RoomID     `json:"room_id"`
	ChannelID  domain.ChannelID  `json:"channel_id"`
	ConsumerID domain.ConsumerID `json:"consumer_id"`
}

type SFULeavePayload struct {
	RoomID    domain.RoomID    `json:"room_id"`
	ChannelID domain.ChannelID `json:"channel_id"`
}

type SFUMediaStatePayload struct {
	RoomID       domain.RoomID    `json:"room_id"`
	ChannelID    domain.ChannelID `json:"channel_id"`
	AudioEnabled bool             `json:"audio_enabled"`
	VideoEnabled bool             `json:"video_enabled"`
}
