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

// RedisMediaStateRepository stores advisory mute/camera flags, one hash
// per room key. Last write wins; entries are removed on leave.
type RedisMediaStateRepository struct {
	client *redis.Client
}

func NewRedisMediaStateRepository(client *redis.Client) ports.MediaStateRepository {
	return &RedisMediaStateRepository{client: client}
}

func (r *RedisMediaStateRepository) stateKey(key domain.RoomKey) string {
	return fmt.Sprintf("zonecast:sfu:%s:%s:states", key.RoomID, key.ChannelID)
}

func (r *RedisMediaStateRepository) Set(ctx context.Context, key domain.RoomKey, state domain.MediaState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal media state: %w", err)
	}
	if err := r.client.HSet(ctx, r.stateKey(key), string(state.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to store media state: %w", err)
	}
	return nil
}

func (r *RedisMediaStateRepository) Remove(ctx context.Context, key domain.RoomKey, userID domain.UserID) error {
	if err := r.client.HDel(ctx, r.stateKey(key), string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove media state: %w", err)
	}
	return nil
}

func (r *RedisMediaStateRepository) List(ctx context.Context, key domain.RoomKey) ([]domain.MediaState, error) {
	fields, err := r.client.HGetAll(ctx, r.stateKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list media states: %w", err)
	}

	states := make([]domain.MediaState, 0, len(fields))
	for _, data := range fields {
		var state domain.MediaState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID < states[j].UserID
	})
	return states, nil
}
