package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRosterRepository keeps one hash per room, field per user, so
// several signaling nodes can serve the same space.
type RedisRosterRepository struct {
	client *redis.Client
}

func NewRedisRosterRepository(client *redis.Client) ports.RosterRepository {
	return &RedisRosterRepository{client: client}
}

func (r *RedisRosterRepository) rosterKey(roomID domain.RoomID) string {
	return fmt.Sprintf("zonecast:room:%s:roster", roomID)
}

func (r *RedisRosterRepository) Upsert(ctx context.Context, roomID domain.RoomID, entry domain.RosterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal roster entry: %w", err)
	}
	if err := r.client.HSet(ctx, r.rosterKey(roomID), string(entry.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to store roster entry: %w", err)
	}
	return nil
}

func (r *RedisRosterRepository) Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	removed, err := r.client.HDel(ctx, r.rosterKey(roomID), string(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove roster entry: %w", err)
	}
	if removed == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *RedisRosterRepository) Get(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.RosterEntry, error) {
	data, err := r.client.HGet(ctx, r.rosterKey(roomID), string(userID)).Result()
	if err == redis.Nil {
		return domain.RosterEntry{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.RosterEntry{}, fmt.Errorf("failed to get roster entry: %w", err)
	}

	var entry domain.RosterEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return domain.RosterEntry{}, fmt.Errorf("failed to unmarshal roster entry: %w", err)
	}
	return entry, nil
}

func (r *RedisRosterRepository) List(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error) {
	fields, err := r.client.HGetAll(ctx, r.rosterKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}

	entries := make([]domain.RosterEntry, 0, len(fields))
	for _, data := range fields {
		var entry domain.RosterEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			// Skip entries written by an incompatible version.
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}
