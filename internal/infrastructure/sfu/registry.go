package sfu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"go.uber.org/zap"
)

// roomEntry serializes router creation per room key. The first joiner
// creates the router; racing joiners wait on ready and reuse the same
// room. Only a fully constructed room is ever published.
type roomEntry struct {
	ready chan struct{}
	room  *Room
	err   error
}

// Registry owns every active SFU room in the process. It is explicit
// shared state constructed at startup and handed to the signaling
// layer, never a package-level singleton.
type Registry struct {
	engine ports.MediaEngine
	relay  ports.SignalingRelay
	states ports.MediaStateRepository

	mu    sync.Mutex
	rooms map[domain.RoomKey]*roomEntry

	fatal atomic.Bool

	logger *zap.SugaredLogger
}

func NewRegistry(engine ports.MediaEngine, relay ports.SignalingRelay, states ports.MediaStateRepository, logger *zap.Logger) *Registry {
	return &Registry{
		engine: engine,
		relay:  relay,
		states: states,
		rooms:  make(map[domain.RoomKey]*roomEntry),
		logger: logger.Sugar(),
	}
}

// Join registers the caller in the room, creating the router first when
// the room is absent. Concurrent joins on an absent key serialize on a
// single creation; rejoining with a known socket id is idempotent.
func (r *Registry) Join(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, userID domain.UserID) (*domain.JoinSnapshot, error) {
	if r.fatal.Load() {
		return nil, domain.ErrWorkerFatal
	}

	for {
		room, err := r.getOrCreateRoom(ctx, key)
		if err != nil {
			return nil, err
		}

		snapshot, err := room.join(ctx, socketID, userID)
		if errors.Is(err, errRoomClosed) {
			// Lost the race against last-peer teardown; create anew.
			continue
		}
		return snapshot, err
	}
}

func (r *Registry) getOrCreateRoom(ctx context.Context, key domain.RoomKey) (*Room, error) {
	r.mu.Lock()
	entry, exists := r.rooms[key]
	if exists {
		r.mu.Unlock()
		select {
		case <-entry.ready:
			if entry.err != nil {
				return nil, entry.err
			}
			return entry.room, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry = &roomEntry{ready: make(chan struct{})}
	r.rooms[key] = entry
	r.mu.Unlock()

	router, err := r.engine.NewRouter(ctx)
	if err != nil {
		entry.err = err
		close(entry.ready)

		r.mu.Lock()
		delete(r.rooms, key)
		r.mu.Unlock()

		if errors.Is(err, domain.ErrWorkerFatal) {
			r.fatal.Store(true)
			r.logger.Errorw("media engine fatal, registry disabled", "error", err)
		}
		return nil, err
	}

	entry.room = newRoom(key, router, r.relay, r.states, r.logger)
	close(entry.ready)
	r.logger.Infow("room created", "room", key.String())
	return entry.room, nil
}

// lookup returns the active room for the key, or RoomNotFound.
func (r *Registry) lookup(key domain.RoomKey) (*Room, error) {
	r.mu.Lock()
	entry, exists := r.rooms[key]
	r.mu.Unlock()
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	select {
	case <-entry.ready:
	default:
		// Still being created; not visible to other operations yet.
		return nil, domain.ErrRoomNotFound
	}
	if entry.err != nil {
		return nil, domain.ErrRoomNotFound
	}
	return entry.room, nil
}

func (r *Registry) CreateTransport(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, direction domain.TransportDirection) (domain.TransportParams, error) {
	room, err := r.lookup(key)
	if err != nil {
		return domain.TransportParams{}, domain.ErrNotJoined
	}
	return room.createTransport(ctx, socketID, direction)
}

func (r *Registry) ConnectTransport(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, transportID domain.TransportID, dtls domain.DTLSParameters) error {
	room, err := r.lookup(key)
	if err != nil {
		return err
	}
	return room.connectTransport(ctx, socketID, transportID, dtls)
}

func (r *Registry) Produce(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, transportID domain.TransportID, kind domain.MediaKind, params domain.RTPParameters) (domain.ProducerID, error) {
	room, err := r.lookup(key)
	if err != nil {
		return "", err
	}
	return room.produce(ctx, socketID, transportID, kind, params)
}

func (r *Registry) Consume(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, transportID domain.TransportID, producerID domain.ProducerID, receiver domain.RTPCapabilities) (domain.ConsumerParams, error) {
	room, err := r.lookup(key)
	if err != nil {
		return domain.ConsumerParams{}, err
	}
	return room.consume(ctx, socketID, transportID, producerID, receiver)
}

func (r *Registry) Resume(ctx context.Context, key domain.RoomKey, socketID domain.SocketID, consumerID domain.ConsumerID) error {
	room, err := r.lookup(key)
	if err != nil {
		return err
	}
	return room.resume(ctx, socketID, consumerID)
}

// Leave tears down the caller's peer session; the room itself is
// destroyed when its last session leaves.
func (r *Registry) Leave(ctx context.Context, key domain.RoomKey, socketID domain.SocketID) error {
	room, err := r.lookup(key)
	if err != nil {
		return err
	}

	remaining, removed := room.removeSession(ctx, socketID)
	if !removed {
		return domain.ErrNotJoined
	}
	if remaining == 0 {
		r.destroyIfEmpty(key, room)
	}
	return nil
}

// LeaveAll handles a transport-level disconnect: an implicit leave of
// every room the socket had joined.
func (r *Registry) LeaveAll(ctx context.Context, socketID domain.SocketID) {
	r.mu.Lock()
	joined := make(map[domain.RoomKey]*roomEntry, len(r.rooms))
	for key, entry := range r.rooms {
		joined[key] = entry
	}
	r.mu.Unlock()

	for key, entry := range joined {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.err != nil || !entry.room.hasSession(socketID) {
			continue
		}
		remaining, removed := entry.room.removeSession(ctx, socketID)
		if removed && remaining == 0 {
			r.destroyIfEmpty(key, entry.room)
		}
	}
}

// destroyIfEmpty removes the room from the registry if it is still the
// published room for the key and still has no sessions.
func (r *Registry) destroyIfEmpty(key domain.RoomKey, room *Room) {
	r.mu.Lock()
	entry, exists := r.rooms[key]
	if !exists || entry.room != room {
		r.mu.Unlock()
		return
	}
	if !room.closeIfEmpty() {
		// Someone joined in the meantime; the room stays.
		r.mu.Unlock()
		return
	}
	delete(r.rooms, key)
	r.mu.Unlock()
}

// SetMediaState applies an advisory mute/camera update and broadcasts
// it to the room.
func (r *Registry) SetMediaState(ctx context.Context, key domain.RoomKey, userID domain.UserID, audioEnabled, videoEnabled bool) error {
	room, err := r.lookup(key)
	if err != nil {
		return err
	}
	room.setMediaState(ctx, userID, audioEnabled, videoEnabled)
	return nil
}

// Stats reports the current registry footprint.
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.Lock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, entry := range r.rooms {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	stats := domain.RegistryStats{}
	for _, entry := range entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.err != nil {
			continue
		}
		stats.ActiveRooms++
		stats.ActiveSessions += entry.room.sessionCount()
		stats.ActiveProducers += entry.room.producerCount()
	}
	return stats
}

// Healthy reports whether the media engine is still usable.
func (r *Registry) Healthy() bool {
	return !r.fatal.Load()
}
