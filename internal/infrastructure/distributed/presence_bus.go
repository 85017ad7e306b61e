package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zonecast/internal/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceChannel = "zonecast:presence"

// Event is one signaling push mirrored between nodes. Room events fan
// out to every member of the room; directed events are addressed at a
// single user whose socket lives on another node.
type Event struct {
	NodeID       string          `json:"node_id"`
	Type         string          `json:"type"`
	RoomID       domain.RoomID   `json:"room_id,omitempty"`
	TargetUserID domain.UserID   `json:"target_user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PresenceBus mirrors signaling pushes across nodes through redis
// pub/sub, so users of the same space can land on different signaling
// nodes. Each node skips its own events on receipt.
type PresenceBus struct {
	client *redis.Client
	nodeID string
	logger *zap.SugaredLogger
	pubsub *redis.PubSub
}

func NewPresenceBus(client *redis.Client, logger *zap.SugaredLogger) *PresenceBus {
	return &PresenceBus{
		client: client,
		nodeID: uuid.NewString(),
		logger: logger,
	}
}

// Publish mirrors a room-scoped push to the other nodes.
func (b *PresenceBus) Publish(ctx context.Context, roomID domain.RoomID, msgType string, payload interface{}) error {
	return b.publish(ctx, Event{Type: msgType, RoomID: roomID}, payload)
}

// PublishDirected mirrors a push addressed at a single user.
func (b *PresenceBus) PublishDirected(ctx context.Context, userID domain.UserID, msgType string, payload interface{}) error {
	return b.publish(ctx, Event{Type: msgType, TargetUserID: userID}, payload)
}

func (b *PresenceBus) publish(ctx context.Context, event Event, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	event.NodeID = b.nodeID
	event.Payload = raw
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, presenceChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe blocks delivering remote events to the handler until the
// context is cancelled. Events published by this node are skipped.
func (b *PresenceBus) Subscribe(ctx context.Context, handler func(Event)) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, presenceChannel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal presence event", "error", err)
				continue
			}
			if event.NodeID == b.nodeID {
				continue
			}
			handler(event)
		}
	}
}

func (b *PresenceBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
