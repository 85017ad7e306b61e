package ports

import (
	"context"

	"zonecast/internal/core/domain"
)

// RoomRegistry owns one media router per room key and the peer sessions
// connected to it. All operations are keyed by the caller's socket id;
// resources created by one session are never reachable from another.
type RoomRegistry interface {
	Join(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, userID domain.UserID) (*domain.JoinSnapshot, error)
	CreateTransport(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, direction domain.TransportDirection) (domain.TransportParams, error)
	ConnectTransport(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, transportID domain.TransportID, dtls domain.DTLSParameters) error
	Produce(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, transportID domain.TransportID, kind domain.MediaKind, params domain.RTPParameters) (domain.ProducerID, error)
	Consume(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, transportID domain.TransportID, producerID domain.ProducerID, receiver domain.RTPCapabilities) (domain.ConsumerParams, error)
	Resume(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, consumerID domain.ConsumerID) error
	Leave(ctx context.Context, key domain.RoomKey, socketID domain.SocketID) error
	LeaveAll(ctx context.Context, socketID domain.SocketID)
	SetMediaState(ctx context.Context, key domain.RoomKey, userID domain.UserID, audioEnabled, videoEnabled bool) error
	Stats() domain.RegistryStats
}

// RosterService tracks who is present in a room and where they stand.
type RosterService interface {
	Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, position domain.Position) error
	Move(ctx context.Context, roomID domain.RoomID, userID domain.UserID, position domain.Position) error
	Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Snapshot(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error)
}
