package memory

import (
	"context"
	"sort"
	"sync"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
)

type MemoryMediaStateRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]map[domain.UserID]domain.MediaState
}

func NewMemoryMediaStateRepository() ports.MediaStateRepository {
	return &MemoryMediaStateRepository{
		rooms: make(map[domain.RoomKey]map[domain.UserID]domain.MediaState),
	}
}

func (r *MemoryMediaStateRepository) Set(ctx context.Context, key domain.RoomKey, state domain.MediaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[domain.UserID]domain.MediaState)
		r.rooms[key] = room
	}
	room[state.UserID] = state
	return nil
}

func (r *MemoryMediaStateRepository) Remove(ctx context.Context, key domain.RoomKey, userID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		return nil
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, key)
	}
	return nil
}

func (r *MemoryMediaStateRepository) List(ctx context.Context, key domain.RoomKey) ([]domain.MediaState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[key]
	states := make([]domain.MediaState, 0, len(room))
	for _, state := range room {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID < states[j].UserID
	})
	return states, nil
}
