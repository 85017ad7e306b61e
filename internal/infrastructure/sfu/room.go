package sfu

import (
	"context"
	"errors"
	"sync"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"go.uber.org/zap"
)

// Push message types sent to room members.
const (
	MsgNewProducer    = "sfu:newProducer"
	MsgProducerClosed = "sfu:producerClosed"
	MsgMediaState     = "sfu:mediaState"
)

// ProducerClosedPush tells a session that a producer it consumes died.
type ProducerClosedPush struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

// MediaStateBroadcast mirrors the sfu:mediaState request shape.
type MediaStateBroadcast struct {
	RoomID       domain.RoomID    `json:"room_id"`
	ChannelID    domain.ChannelID `json:"channel_id"`
	UserID       domain.UserID    `json:"user_id"`
	AudioEnabled bool             `json:"audio_enabled"`
	VideoEnabled bool             `json:"video_enabled"`
}

type producerRecord struct {
	info     domain.ProducerInfo
	producer ports.Producer
	owner    domain.SocketID
}

// push is a notification collected under the room lock and delivered
// after it is released.
type push struct {
	target  domain.SocketID
	msgType string
	payload interface{}
}

// Room owns one router and the peer sessions connected to it. It exists
// only while at least one session is registered; the registry destroys
// it when the last one leaves.
type Room struct {
	key    domain.RoomKey
	router ports.Router
	relay  ports.SignalingRelay
	states ports.MediaStateRepository

	mu          sync.Mutex
	sessions    map[domain.SocketID]*PeerSession
	producers   map[domain.ProducerID]*producerRecord
	mediaStates map[domain.UserID]domain.MediaState
	closed      bool

	logger *zap.SugaredLogger
}

func newRoom(key domain.RoomKey, router ports.Router, relay ports.SignalingRelay, states ports.MediaStateRepository, logger *zap.SugaredLogger) *Room {
	room := &Room{
		key:         key,
		router:      router,
		relay:       relay,
		states:      states,
		sessions:    make(map[domain.SocketID]*PeerSession),
		producers:   make(map[domain.ProducerID]*producerRecord),
		mediaStates: make(map[domain.UserID]domain.MediaState),
		logger:      logger,
	}

	// Warm advisory media states so a client reconnecting through
	// another node sees the flags it left behind.
	if stored, err := states.List(context.Background(), key); err == nil {
		for _, state := range stored {
			room.mediaStates[state.UserID] = state
		}
	}
	return room
}

// errRoomClosed signals that a caller raced the teardown of an empty
// room; the registry retries the join against a fresh room.
var errRoomClosed = errors.New("room closed")

// join registers a peer session for the socket, seeding a default media
// state for the user if none exists. Rejoining with a known socket id
// is idempotent and returns the current snapshot.
func (r *Room) join(ctx context.Context, socketID domain.SocketID, userID domain.UserID) (*domain.JoinSnapshot, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errRoomClosed
	}

	if _, exists := r.sessions[socketID]; !exists {
		r.sessions[socketID] = newPeerSession(socketID, userID)
		if _, seeded := r.mediaStates[userID]; !seeded {
			state := domain.DefaultMediaState(userID)
			r.mediaStates[userID] = state
			r.states.Set(ctx, r.key, state)
		}
	}

	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Infow("peer session joined", "room", r.key.String(), "socket_id", socketID, "user_id", userID)
	return snapshot, nil
}

// snapshotLocked builds the authoritative room view. Caller holds r.mu.
func (r *Room) snapshotLocked() *domain.JoinSnapshot {
	producers := make([]domain.ProducerInfo, 0, len(r.producers))
	for _, record := range r.producers {
		producers = append(producers, record.info)
	}
	states := make([]domain.MediaState, 0, len(r.mediaStates))
	for _, state := range r.mediaStates {
		states = append(states, state)
	}
	return &domain.JoinSnapshot{
		RouterCapabilities: r.router.Capabilities(),
		Producers:          producers,
		MediaStates:        states,
	}
}

func (r *Room) createTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection) (domain.TransportParams, error) {
	r.mu.Lock()
	session, ok := r.sessions[socketID]
	if !ok {
		r.mu.Unlock()
		return domain.TransportParams{}, domain.ErrNotJoined
	}
	r.mu.Unlock()

	// Transport negotiation is I/O bound; run it outside the room lock
	// so it can interleave with other requests for the same room.
	transport, err := r.router.NewTransport(ctx, direction)
	if err != nil {
		return domain.TransportParams{}, err
	}

	r.mu.Lock()
	if r.closed || r.sessions[socketID] != session {
		r.mu.Unlock()
		transport.Close()
		return domain.TransportParams{}, domain.ErrNotJoined
	}
	session.transports[transport.ID()] = transport
	r.mu.Unlock()

	return transport.Params(), nil
}

func (r *Room) connectTransport(ctx context.Context, socketID domain.SocketID, transportID domain.TransportID, dtls domain.DTLSParameters) error {
	r.mu.Lock()
	session, ok := r.sessions[socketID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotJoined
	}
	transport, ok := session.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrTransportNotFound
	}

	return transport.Connect(ctx, dtls)
}

// produce creates a producer on the caller's transport, publishes it in
// the directory and notifies every other session in the room.
func (r *Room) produce(ctx context.Context, socketID domain.SocketID, transportID domain.TransportID, kind domain.MediaKind, params domain.RTPParameters) (domain.ProducerID, error) {
	r.mu.Lock()
	session, ok := r.sessions[socketID]
	if !ok {
		r.mu.Unlock()
		return "", domain.ErrNotJoined
	}
	transport, ok := session.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return "", domain.ErrTransportNotFound
	}

	producer, err := transport.Produce(ctx, kind, params)
	if err != nil {
		return "", err
	}

	info := domain.ProducerInfo{
		ProducerID: producer.ID(),
		UserID:     session.userID,
		Kind:       kind,
	}

	var pushes []push
	r.mu.Lock()
	if r.closed || r.sessions[socketID] != session {
		r.mu.Unlock()
		producer.Close()
		return "", domain.ErrNotJoined
	}
	session.producers[producer.ID()] = producer
	r.producers[producer.ID()] = &producerRecord{info: info, producer: producer, owner: socketID}
	for otherID := range r.sessions {
		if otherID != socketID {
			pushes = append(pushes, push{target: otherID, msgType: MsgNewProducer, payload: info})
		}
	}
	r.mu.Unlock()

	r.deliver(pushes)
	r.logger.Infow("producer created",
		"room", r.key.String(),
		"producer_id", producer.ID(),
		"user_id", session.userID,
		"kind", kind,
	)
	return producer.ID(), nil
}

// consume creates a paused consumer for a producer currently visible in
// the directory. Incompatible receiver capabilities fail before any
// consumer exists.
func (r *Room) consume(ctx context.Context, socketID domain.SocketID, transportID domain.TransportID, producerID domain.ProducerID, receiver domain.RTPCapabilities) (domain.ConsumerParams, error) {
	r.mu.Lock()
	session, ok := r.sessions[socketID]
	if !ok {
		r.mu.Unlock()
		return domain.ConsumerParams{}, domain.ErrNotJoined
	}
	transport, ok := session.transports[transportID]
	if !ok {
		r.mu.Unlock()
		return domain.ConsumerParams{}, domain.ErrTransportNotFound
	}
	record, ok := r.producers[producerID]
	if !ok {
		r.mu.Unlock()
		return domain.ConsumerParams{}, domain.ErrProducerNotFound
	}
	if !r.router.CanConsume(record.producer, receiver) {
		r.mu.Unlock()
		return domain.ConsumerParams{}, domain.ErrCannotConsume
	}
	r.mu.Unlock()

	consumer, err := transport.Consume(ctx, record.producer, receiver)
	if err != nil {
		return domain.ConsumerParams{}, err
	}

	r.mu.Lock()
	if r.closed || r.sessions[socketID] != session {
		r.mu.Unlock()
		consumer.Close()
		return domain.ConsumerParams{}, domain.ErrNotJoined
	}
	if _, stillThere := r.producers[producerID]; !stillThere {
		// Producer closed while we negotiated; never hand out a
		// consumer for a directory entry that is already gone.
		r.mu.Unlock()
		consumer.Close()
		return domain.ConsumerParams{}, domain.ErrProducerNotFound
	}
	session.consumers[consumer.ID()] = consumerEntry{consumer: consumer, producerID: producerID}
	r.mu.Unlock()

	params := consumer.Params()
	params.UserID = record.info.UserID
	return params, nil
}

func (r *Room) resume(ctx context.Context, socketID domain.SocketID, consumerID domain.ConsumerID) error {
	r.mu.Lock()
	session, ok := r.sessions[socketID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotJoined
	}
	entry, ok := session.consumers[consumerID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrConsumerNotFound
	}

	return entry.consumer.Resume()
}

// setMediaState applies a last-write-wins advisory update and
// broadcasts it to every member. It never gates media flow.
func (r *Room) setMediaState(ctx context.Context, userID domain.UserID, audioEnabled, videoEnabled bool) {
	state := domain.MediaState{UserID: userID, AudioEnabled: audioEnabled, VideoEnabled: videoEnabled}
	broadcast := MediaStateBroadcast{
		RoomID:       r.key.RoomID,
		ChannelID:    r.key.ChannelID,
		UserID:       userID,
		AudioEnabled: audioEnabled,
		VideoEnabled: videoEnabled,
	}

	var pushes []push
	r.mu.Lock()
	r.mediaStates[userID] = state
	for socketID := range r.sessions {
		pushes = append(pushes, push{target: socketID, msgType: MsgMediaState, payload: broadcast})
	}
	r.mu.Unlock()

	r.states.Set(ctx, r.key, state)
	r.deliver(pushes)
}

// removeSession tears down one peer session: every consumer, producer
// and transport it owns is closed, its directory entries vanish, and
// every other session consuming one of its producers drops that
// consumer and is notified. Returns the number of sessions left.
func (r *Room) removeSession(ctx context.Context, socketID domain.SocketID) (int, bool) {
	var pushes []push

	r.mu.Lock()
	session, ok := r.sessions[socketID]
	if !ok {
		remaining := len(r.sessions)
		r.mu.Unlock()
		return remaining, false
	}
	delete(r.sessions, socketID)

	// Unpublish the session's producers and invalidate remote
	// consumers before anything is closed, so no consume call can see
	// a directory entry for a dying producer.
	for producerID := range session.producers {
		delete(r.producers, producerID)
		for otherSocketID, other := range r.sessions {
			for _, consumerID := range other.consumersOf(producerID) {
				other.consumers[consumerID].consumer.Close()
				delete(other.consumers, consumerID)
			}
			pushes = append(pushes, push{
				target:  otherSocketID,
				msgType: MsgProducerClosed,
				payload: ProducerClosedPush{ProducerID: producerID},
			})
		}
	}

	session.closeAll()
	delete(r.mediaStates, session.userID)
	remaining := len(r.sessions)
	r.mu.Unlock()

	r.states.Remove(ctx, r.key, session.userID)
	r.deliver(pushes)
	r.logger.Infow("peer session removed", "room", r.key.String(), "socket_id", socketID, "remaining", remaining)
	return remaining, true
}

// closeIfEmpty marks the room closed when no sessions remain, closing
// the router. Returns whether the room was closed.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	if len(r.sessions) > 0 || r.closed {
		closed := r.closed
		r.mu.Unlock()
		return closed
	}
	r.closed = true
	r.mu.Unlock()

	r.router.Close()
	r.logger.Infow("room destroyed", "room", r.key.String())
	return true
}

func (r *Room) hasSession(socketID domain.SocketID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[socketID]
	return ok
}

func (r *Room) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Room) producerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

// deliver sends collected pushes outside the room lock. Ordering per
// recipient is preserved by the relay.
func (r *Room) deliver(pushes []push) {
	for _, p := range pushes {
		if err := r.relay.Send(string(p.target), p.msgType, p.payload); err != nil {
			r.logger.Warnw("failed to push notification",
				"room", r.key.String(),
				"target", p.target,
				"type", p.msgType,
				"error", err,
			)
		}
	}
}
