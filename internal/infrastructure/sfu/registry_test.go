package sfu

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCaps = domain.RTPCapabilities{
	Codecs: []domain.RTPCodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", ClockRate: 90000},
	},
}

var opusParams = domain.RTPParameters{
	Codec: domain.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	SSRC:  1111,
}

type fakeProducer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	params domain.RTPParameters

	mu     sync.Mutex
	closed bool
}

func (p *fakeProducer) ID() domain.ProducerID                { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind               { return p.kind }
func (p *fakeProducer) RTPParameters() domain.RTPParameters  { return p.params }
func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	id     domain.ConsumerID
	params domain.ConsumerParams

	mu      sync.Mutex
	resumed bool
	closed  bool
}

func (c *fakeConsumer) ID() domain.ConsumerID          { return c.id }
func (c *fakeConsumer) Params() domain.ConsumerParams  { return c.params }
func (c *fakeConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed = true
	return nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConsumer) isResumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

type fakeTransport struct {
	id        domain.TransportID
	direction domain.TransportDirection

	mu        sync.Mutex
	connected bool
	closed    bool
	seq       int
}

func (t *fakeTransport) ID() domain.TransportID { return t.id }

func (t *fakeTransport) Params() domain.TransportParams {
	return domain.TransportParams{TransportID: t.id, Direction: t.direction}
}

func (t *fakeTransport) Connect(ctx context.Context, dtls domain.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (ports.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return &fakeProducer{
		id:     domain.ProducerID(fmt.Sprintf("%s-producer-%d", t.id, t.seq)),
		kind:   kind,
		params: params,
	}, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producer ports.Producer, receiver domain.RTPCapabilities) (ports.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return &fakeConsumer{
		id: domain.ConsumerID(fmt.Sprintf("%s-consumer-%d", t.id, t.seq)),
		params: domain.ConsumerParams{
			ConsumerID:    domain.ConsumerID(fmt.Sprintf("%s-consumer-%d", t.id, t.seq)),
			ProducerID:    producer.ID(),
			Kind:          producer.Kind(),
			RTPParameters: producer.RTPParameters(),
		},
	}, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type fakeRouter struct {
	mu     sync.Mutex
	seq    int
	closed bool
}

func (r *fakeRouter) Capabilities() domain.RTPCapabilities { return testCaps }

func (r *fakeRouter) NewTransport(ctx context.Context, direction domain.TransportDirection) (ports.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return &fakeTransport{
		id:        domain.TransportID(fmt.Sprintf("transport-%d", r.seq)),
		direction: direction,
	}, nil
}

func (r *fakeRouter) CanConsume(producer ports.Producer, receiver domain.RTPCapabilities) bool {
	return receiver.Supports(producer.RTPParameters().Codec)
}

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeEngine struct {
	mu      sync.Mutex
	routers []*fakeRouter
	err     error

	// gate, when set, blocks router creation until closed.
	gate chan struct{}
}

func (e *fakeEngine) NewRouter(ctx context.Context) (ports.Router, error) {
	if e.gate != nil {
		<-e.gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	router := &fakeRouter{}
	e.routers = append(e.routers, router)
	return router, nil
}

func (e *fakeEngine) routerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routers)
}

type sentPush struct {
	Target  string
	Type    string
	Payload interface{}
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []sentPush
}

func (r *fakeRelay) Send(target string, msgType string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentPush{Target: target, Type: msgType, Payload: payload})
	return nil
}

func (r *fakeRelay) pushes(target string, msgType string) []sentPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentPush
	for _, p := range r.sent {
		if p.Target == target && p.Type == msgType {
			out = append(out, p)
		}
	}
	return out
}

type fakeStateRepo struct {
	mu     sync.Mutex
	states map[domain.RoomKey]map[domain.UserID]domain.MediaState
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: make(map[domain.RoomKey]map[domain.UserID]domain.MediaState)}
}

func (r *fakeStateRepo) Set(ctx context.Context, key domain.RoomKey, state domain.MediaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[key] == nil {
		r.states[key] = make(map[domain.UserID]domain.MediaState)
	}
	r.states[key][state.UserID] = state
	return nil
}

func (r *fakeStateRepo) Remove(ctx context.Context, key domain.RoomKey, userID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states[key], userID)
	return nil
}

func (r *fakeStateRepo) List(ctx context.Context, key domain.RoomKey) ([]domain.MediaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MediaState
	for _, state := range r.states[key] {
		out = append(out, state)
	}
	return out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeEngine, *fakeRelay) {
	t.Helper()
	engine := &fakeEngine{}
	relay := &fakeRelay{}
	return NewRegistry(engine, relay, newFakeStateRepo(), zap.NewNop()), engine, relay
}

var testKey = domain.NewRoomKey("guild-1", "voice-1")

func TestJoinCreatesRoomAndReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	registry, engine, _ := newTestRegistry(t)

	snapshot, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, testCaps, snapshot.RouterCapabilities)
	assert.Empty(t, snapshot.Producers)
	require.Len(t, snapshot.MediaStates, 1)
	assert.True(t, snapshot.MediaStates[0].AudioEnabled)
	assert.True(t, snapshot.MediaStates[0].VideoEnabled)
	assert.Equal(t, 1, engine.routerCount())

	stats := registry.Stats()
	assert.Equal(t, 1, stats.ActiveRooms)
	assert.Equal(t, 1, stats.ActiveSessions)
}

func TestConcurrentJoinsCreateOneRouter(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{gate: make(chan struct{})}
	registry := NewRegistry(engine, &fakeRelay{}, newFakeStateRepo(), zap.NewNop())

	const joiners = 8
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = registry.Join(ctx, testKey, domain.SocketID(fmt.Sprintf("sock-%d", i)), domain.UserID(fmt.Sprintf("user-%d", i)))
		}(i)
	}

	// Let the joiners pile up on the in-flight creation, then release.
	time.Sleep(50 * time.Millisecond)
	close(engine.gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, engine.routerCount())
	assert.Equal(t, 1, registry.Stats().ActiveRooms)
	assert.Equal(t, joiners, registry.Stats().ActiveSessions)
}

func TestRejoinSameSocketIdempotent(t *testing.T) {
	ctx := context.Background()
	registry, engine, _ := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)

	params, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	require.NoError(t, err)

	// Rejoin must not tear down existing resources.
	_, err = registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, engine.routerCount())
	assert.Equal(t, 1, registry.Stats().ActiveSessions)

	err = registry.ConnectTransport(ctx, testKey, "sock-a", params.TransportID, domain.DTLSParameters{})
	assert.NoError(t, err)
}

func TestOperationsWithoutJoin(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	assert.ErrorIs(t, err, domain.ErrNotJoined)

	err = registry.ConnectTransport(ctx, testKey, "sock-a", "tr-1", domain.DTLSParameters{})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	err = registry.Leave(ctx, testKey, "sock-a")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestConnectUnknownTransport(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)

	err = registry.ConnectTransport(ctx, testKey, "sock-a", "no-such", domain.DTLSParameters{})
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
}

func TestSessionsCannotTouchEachOthersTransports(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, testKey, "sock-b", "bob")
	require.NoError(t, err)

	params, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	require.NoError(t, err)

	err = registry.ConnectTransport(ctx, testKey, "sock-b", params.TransportID, domain.DTLSParameters{})
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
}

func TestProduceNotifiesOtherSessionsOnly(t *testing.T) {
	ctx := context.Background()
	registry, _, relay := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, testKey, "sock-b", "bob")
	require.NoError(t, err)

	params, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	require.NoError(t, err)

	producerID, err := registry.Produce(ctx, testKey, "sock-a", params.TransportID, domain.MediaKindAudio, opusParams)
	require.NoError(t, err)
	require.NotEmpty(t, producerID)

	require.Len(t, relay.pushes("sock-b", MsgNewProducer), 1)
	assert.Empty(t, relay.pushes("sock-a", MsgNewProducer))

	info := relay.pushes("sock-b", MsgNewProducer)[0].Payload.(domain.ProducerInfo)
	assert.Equal(t, producerID, info.ProducerID)
	assert.Equal(t, domain.UserID("alice"), info.UserID)
	assert.Equal(t, domain.MediaKindAudio, info.Kind)

	// Late joiner sees the producer in its snapshot.
	snapshot, err := registry.Join(ctx, testKey, "sock-c", "carol")
	require.NoError(t, err)
	require.Len(t, snapshot.Producers, 1)
	assert.Equal(t, producerID, snapshot.Producers[0].ProducerID)
}

func TestConsumeErrors(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	params, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionRecv)
	require.NoError(t, err)

	_, err = registry.Consume(ctx, testKey, "sock-a", params.TransportID, "no-such-producer", testCaps)
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)

	sendParams, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	require.NoError(t, err)
	producerID, err := registry.Produce(ctx, testKey, "sock-a", sendParams.TransportID, domain.MediaKindAudio, opusParams)
	require.NoError(t, err)

	videoOnly := domain.RTPCapabilities{
		Codecs: []domain.RTPCodecCapability{{MimeType: "video/VP8", ClockRate: 90000}},
	}
	_, err = registry.Consume(ctx, testKey, "sock-a", params.TransportID, producerID, videoOnly)
	assert.ErrorIs(t, err, domain.ErrCannotConsume)
}

func TestConsumeStartsPausedResumeDelivers(t *testing.T) {
	ctx := context.Background()
	registry, engine, _ := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, testKey, "sock-b", "bob")
	require.NoError(t, err)

	sendParams, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	require.NoError(t, err)
	producerID, err := registry.Produce(ctx, testKey, "sock-a", sendParams.TransportID, domain.MediaKindAudio, opusParams)
	require.NoError(t, err)

	recvParams, err := registry.CreateTransport(ctx, testKey, "sock-b", domain.DirectionRecv)
	require.NoError(t, err)
	consumerParams, err := registry.Consume(ctx, testKey, "sock-b", recvParams.TransportID, producerID, testCaps)
	require.NoError(t, err)
	assert.Equal(t, producerID, consumerParams.ProducerID)
	assert.Equal(t, domain.UserID("alice"), consumerParams.UserID)

	err = registry.Resume(ctx, testKey, "sock-b", consumerParams.ConsumerID)
	require.NoError(t, err)

	err = registry.Resume(ctx, testKey, "sock-b", "no-such-consumer")
	assert.ErrorIs(t, err, domain.ErrConsumerNotFound)

	_ = engine
}

func TestLeaveClosesProducersAndNotifiesConsumers(t *testing.T) {
	ctx := context.Background()
	registry, engine, relay := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, testKey, "sock-b", "bob")
	require.NoError(t, err)

	sendParams, err := registry.CreateTransport(ctx, testKey, "sock-a", domain.DirectionSend)
	require.NoError(t, err)
	producerID, err := registry.Produce(ctx, testKey, "sock-a", sendParams.TransportID, domain.MediaKindAudio, opusParams)
	require.NoError(t, err)

	recvParams, err := registry.CreateTransport(ctx, testKey, "sock-b", domain.DirectionRecv)
	require.NoError(t, err)
	consumerParams, err := registry.Consume(ctx, testKey, "sock-b", recvParams.TransportID, producerID, testCaps)
	require.NoError(t, err)

	require.NoError(t, registry.Leave(ctx, testKey, "sock-a"))

	pushes := relay.pushes("sock-b", MsgProducerClosed)
	require.Len(t, pushes, 1)
	assert.Equal(t, producerID, pushes[0].Payload.(ProducerClosedPush).ProducerID)

	// Bob's consumer is gone; resuming it now fails.
	err = registry.Resume(ctx, testKey, "sock-b", consumerParams.ConsumerID)
	assert.ErrorIs(t, err, domain.ErrConsumerNotFound)

	// Alice's snapshot entries are gone for a late joiner.
	snapshot, err := registry.Join(ctx, testKey, "sock-c", "carol")
	require.NoError(t, err)
	assert.Empty(t, snapshot.Producers)

	// Room survives while bob and carol remain.
	assert.Equal(t, 1, registry.Stats().ActiveRooms)
	require.NoError(t, registry.Leave(ctx, testKey, "sock-b"))
	require.NoError(t, registry.Leave(ctx, testKey, "sock-c"))
	assert.Equal(t, 0, registry.Stats().ActiveRooms)
	assert.True(t, engine.routers[0].isClosed())
}

func TestRoomRecreatedAfterTeardown(t *testing.T) {
	ctx := context.Background()
	registry, engine, _ := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	require.NoError(t, registry.Leave(ctx, testKey, "sock-a"))
	require.Equal(t, 0, registry.Stats().ActiveRooms)

	_, err = registry.Join(ctx, testKey, "sock-b", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, engine.routerCount())
	assert.Equal(t, 1, registry.Stats().ActiveRooms)
}

func TestLeaveAllSpansRooms(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	otherKey := domain.NewRoomKey("guild-1", "voice-2")

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, otherKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, otherKey, "sock-b", "bob")
	require.NoError(t, err)

	registry.LeaveAll(ctx, "sock-a")

	stats := registry.Stats()
	assert.Equal(t, 1, stats.ActiveRooms)
	assert.Equal(t, 1, stats.ActiveSessions)
}

func TestSetMediaStateBroadcastsAndLastWriteWins(t *testing.T) {
	ctx := context.Background()
	registry, _, relay := newTestRegistry(t)

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.NoError(t, err)
	_, err = registry.Join(ctx, testKey, "sock-b", "bob")
	require.NoError(t, err)

	require.NoError(t, registry.SetMediaState(ctx, testKey, "alice", false, true))
	require.NoError(t, registry.SetMediaState(ctx, testKey, "alice", true, false))

	// Both members get every broadcast, sender included.
	assert.Len(t, relay.pushes("sock-a", MsgMediaState), 2)
	assert.Len(t, relay.pushes("sock-b", MsgMediaState), 2)

	last := relay.pushes("sock-b", MsgMediaState)[1].Payload.(MediaStateBroadcast)
	assert.True(t, last.AudioEnabled)
	assert.False(t, last.VideoEnabled)

	// The latest write is what a late joiner sees.
	snapshot, err := registry.Join(ctx, testKey, "sock-c", "carol")
	require.NoError(t, err)
	for _, state := range snapshot.MediaStates {
		if state.UserID == "alice" {
			assert.True(t, state.AudioEnabled)
			assert.False(t, state.VideoEnabled)
		}
	}
}

func TestWorkerFatalDisablesRegistry(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{err: fmt.Errorf("%w: worker exited", domain.ErrWorkerFatal)}
	registry := NewRegistry(engine, &fakeRelay{}, newFakeStateRepo(), zap.NewNop())

	_, err := registry.Join(ctx, testKey, "sock-a", "alice")
	require.ErrorIs(t, err, domain.ErrWorkerFatal)
	assert.False(t, registry.Healthy())

	// Every later join fails fast without touching the engine.
	_, err = registry.Join(ctx, domain.NewRoomKey("guild-2", "voice-1"), "sock-b", "bob")
	assert.ErrorIs(t, err, domain.ErrWorkerFatal)
}
