package memory

import (
	"context"
	"sort"
	"sync"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
)

type MemoryRosterRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]domain.RosterEntry
}

func NewMemoryRosterRepository() ports.RosterRepository {
	return &MemoryRosterRepository{
		rooms: make(map[domain.RoomID]map[domain.UserID]domain.RosterEntry),
	}
}

func (r *MemoryRosterRepository) Upsert(ctx context.Context, roomID domain.RoomID, entry domain.RosterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[domain.UserID]domain.RosterEntry)
		r.rooms[roomID] = room
	}
	room[entry.UserID] = entry
	return nil
}

func (r *MemoryRosterRepository) Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if _, exists := room[userID]; !exists {
		return domain.ErrUserNotFound
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return nil
}

func (r *MemoryRosterRepository) Get(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.RosterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[roomID][userID]
	if !ok {
		return domain.RosterEntry{}, domain.ErrUserNotFound
	}
	return entry, nil
}

func (r *MemoryRosterRepository) List(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	entries := make([]domain.RosterEntry, 0, len(room))
	for _, entry := range room {
		entries = append(entries, entry)
	}
	// Stable order keeps roster snapshots deterministic for clients.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}
