package ports

import (
	"context"

	"zonecast/internal/core/domain"
)

// RosterRepository stores per-room presence and positions. Backed by
// memory in a single-node deployment or redis when several signaling
// nodes share one space.
type RosterRepository interface {
	Upsert(ctx context.Context, roomID domain.RoomID, entry domain.RosterEntry) error
	Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Get(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.RosterEntry, error)
	List(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error)
}

// MediaStateRepository stores advisory mute/camera flags per room key,
// last write wins.
type MediaStateRepository interface {
	Set(ctx context.Context, key domain.RoomKey, state domain.MediaState) error
	Remove(ctx context.Context, key domain.RoomKey, userID domain.UserID) error
	List(ctx context.Context, key domain.RoomKey) ([]domain.MediaState, error)
}
