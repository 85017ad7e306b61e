package webrtc

import (
	"context"
	"fmt"
	"sync"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
	"zonecast/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig holds the WebRTC-level configuration shared by the SFU
// routers and the mesh dialer.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Engine creates routers backed by pion. Each router carries its own
// API instance so a closed channel never affects another.
type Engine struct {
	config EngineConfig
	logger *zap.SugaredLogger
}

func NewEngine(config EngineConfig, logger *zap.Logger) ports.MediaEngine {
	return &Engine{config: config, logger: logger.Sugar()}
}

// routerCapabilities is what every router in this engine can decode:
// opus audio and VP8 video.
func routerCapabilities() domain.RTPCapabilities {
	return domain.RTPCapabilities{
		Codecs: []domain.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
}

func (e *Engine) NewRouter(ctx context.Context) (ports.Router, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("%w: register codecs: %v", domain.ErrWorkerFatal, err)
	}

	settingEngine := webrtc.SettingEngine{}
	if e.config.PortRange.Min > 0 && e.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(e.config.PortRange.Min, e.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("%w: port range: %v", domain.ErrWorkerFatal, err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &router{
		api:    api,
		config: e.config,
		caps:   routerCapabilities(),
		logger: e.logger,
	}, nil
}

type router struct {
	api    *webrtc.API
	config EngineConfig
	caps   domain.RTPCapabilities
	logger *zap.SugaredLogger
}

func (r *router) Capabilities() domain.RTPCapabilities {
	return r.caps
}

func (r *router) CanConsume(producer ports.Producer, receiver domain.RTPCapabilities) bool {
	return receiver.Supports(producer.RTPParameters().Codec)
}

func (r *router) NewTransport(ctx context.Context, direction domain.TransportDirection) (ports.Transport, error) {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   r.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &transport{
		id:        domain.TransportID(utils.GenerateTransportID()),
		direction: direction,
		pc:        pc,
		params: domain.TransportParams{
			Direction: direction,
			ICEUfrag:  utils.GenerateID("ufrag"),
			ICEPwd:    utils.GenerateID("pwd"),
		},
		producers: make(map[domain.ProducerID]*producer),
		logger:    r.logger,
	}
	t.params.TransportID = t.id

	pc.OnTrack(t.handleRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Debugw("transport connection state changed",
			"transport_id", t.id,
			"state", state.String(),
		)
	})

	return t, nil
}

func (r *router) Close() error {
	// Transports are owned by peer sessions; their teardown closes the
	// underlying peer connections. Nothing router-level remains.
	return nil
}

type transport struct {
	id        domain.TransportID
	direction domain.TransportDirection
	pc        *webrtc.PeerConnection
	params    domain.TransportParams

	mu        sync.Mutex
	connected bool
	closed    bool
	producers map[domain.ProducerID]*producer

	logger *zap.SugaredLogger
}

func (t *transport) ID() domain.TransportID {
	return t.id
}

func (t *transport) Params() domain.TransportParams {
	return t.params
}

// Connect completes the handshake setup for the transport. The actual
// ICE/DTLS negotiation runs inside pion once descriptions are applied;
// here the remote parameters are recorded and the transport armed.
func (t *transport) Connect(ctx context.Context, dtls domain.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportNotFound
	}
	t.params.DTLS = dtls
	t.connected = true
	return nil
}

// Produce allocates a producer fed by the matching inbound track. The
// forwarding loop starts when the remote track arrives.
func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (ports.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, domain.ErrTransportNotFound
	}

	p := &producer{
		id:        domain.ProducerID(utils.GenerateProducerID()),
		kind:      kind,
		params:    params,
		transport: t,
		consumers: make(map[domain.ConsumerID]*consumer),
		done:      make(chan struct{}),
		logger:    t.logger,
	}
	t.producers[p.id] = p
	return p, nil
}

// Consume attaches a paused consumer track for the producer to this
// transport's peer connection.
func (t *transport) Consume(ctx context.Context, prod ports.Producer, receiver domain.RTPCapabilities) (ports.Consumer, error) {
	p, ok := prod.(*producer)
	if !ok {
		return nil, domain.ErrCannotConsume
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrTransportNotFound
	}
	t.mu.Unlock()

	codec := p.params.Codec
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  codec.MimeType,
			ClockRate: codec.ClockRate,
			Channels:  codec.Channels,
		},
		string(p.id),
		fmt.Sprintf("zonecast-%s", p.kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer track: %w", err)
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add consumer track: %w", err)
	}

	c := &consumer{
		id:       domain.ConsumerID(utils.GenerateConsumerID()),
		producer: p,
		track:    track,
		sender:   sender,
		pc:       t.pc,
		paused:   true,
		logger:   t.logger,
	}

	// Drain sender RTCP and turn consumer-side picture loss into a
	// keyframe request toward the producing peer.
	go c.rtcpLoop()

	p.addConsumer(c)
	return c, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	return t.pc.Close()
}

// handleRemoteTrack binds an arriving remote track to the producer of
// the same kind and starts the forwarding loop.
func (t *transport) handleRemoteTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := domain.MediaKindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaKindVideo
	}

	t.mu.Lock()
	var target *producer
	for _, p := range t.producers {
		if p.kind == kind && !p.bound {
			p.bound = true
			target = p
			break
		}
	}
	t.mu.Unlock()

	if target == nil {
		t.logger.Warnw("remote track without matching producer",
			"transport_id", t.id,
			"track_id", remote.ID(),
			"kind", kind,
		)
		return
	}

	target.setSource(remote)
	t.logger.Infow("producer bound to remote track",
		"transport_id", t.id,
		"producer_id", target.id,
		"kind", kind,
		"codec", remote.Codec().MimeType,
	)

	go target.forwardLoop(remote)
	go target.rtcpLoop(receiver)
}

type producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	params    domain.RTPParameters
	transport *transport
	bound     bool

	mu        sync.RWMutex
	source    *webrtc.TrackRemote
	consumers map[domain.ConsumerID]*consumer
	closed    bool
	done      chan struct{}

	logger *zap.SugaredLogger
}

func (p *producer) ID() domain.ProducerID {
	return p.id
}

func (p *producer) Kind() domain.MediaKind {
	return p.kind
}

func (p *producer) RTPParameters() domain.RTPParameters {
	return p.params
}

func (p *producer) setSource(remote *webrtc.TrackRemote) {
	p.mu.Lock()
	p.source = remote
	p.mu.Unlock()
}

func (p *producer) addConsumer(c *consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *producer) removeConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// forwardLoop reads RTP from the remote track and fans each packet out
// to every unpaused consumer track.
func (p *producer) forwardLoop(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			p.logger.Debugw("producer source track ended", "producer_id", p.id, "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.logger.Warnw("failed to unmarshal RTP packet", "producer_id", p.id, "error", err)
			continue
		}

		p.mu.RLock()
		for _, c := range p.consumers {
			if c.isPaused() {
				continue
			}
			if err := c.track.WriteRTP(pkt); err != nil {
				p.logger.Debugw("failed to forward RTP packet",
					"producer_id", p.id,
					"consumer_id", c.id,
					"error", err,
				)
			}
		}
		p.mu.RUnlock()
	}
}

// rtcpLoop drains receiver reports from the producing side.
func (p *producer) rtcpLoop(receiver *webrtc.RTPReceiver) {
	for {
		select {
		case <-p.done:
			return
		default:
		}
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// requestKeyFrame asks the producing peer for a keyframe via PLI.
func (p *producer) requestKeyFrame() {
	p.mu.RLock()
	source := p.source
	p.mu.RUnlock()
	if source == nil || p.kind != domain.MediaKindVideo {
		return
	}

	err := p.transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(source.SSRC())},
	})
	if err != nil {
		p.logger.Debugw("failed to send PLI", "producer_id", p.id, "error", err)
	}
}

func (p *producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.consumers = make(map[domain.ConsumerID]*consumer)
	p.mu.Unlock()
	return nil
}

type consumer struct {
	id       domain.ConsumerID
	producer *producer
	track    *webrtc.TrackLocalStaticRTP
	sender   *webrtc.RTPSender
	pc       *webrtc.PeerConnection

	mu     sync.Mutex
	paused bool
	closed bool

	logger *zap.SugaredLogger
}

func (c *consumer) ID() domain.ConsumerID {
	return c.id
}

func (c *consumer) Params() domain.ConsumerParams {
	return domain.ConsumerParams{
		ConsumerID:    c.id,
		ProducerID:    c.producer.id,
		Kind:          c.producer.kind,
		RTPParameters: c.producer.params,
	}
}

func (c *consumer) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Resume starts delivery and requests a keyframe so video renders
// immediately instead of waiting for the next intra frame.
func (c *consumer) Resume() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrConsumerNotFound
	}
	c.paused = false
	c.mu.Unlock()

	c.producer.requestKeyFrame()
	return nil
}

func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.producer.removeConsumer(c.id)
	if err := c.pc.RemoveTrack(c.sender); err != nil {
		c.logger.Debugw("failed to remove consumer track", "consumer_id", c.id, "error", err)
	}
	return nil
}

// rtcpLoop drains RTCP from the consuming side and relays picture loss
// upstream as a keyframe request.
func (c *consumer) rtcpLoop() {
	for {
		packets, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				c.producer.requestKeyFrame()
			}
		}
	}
}
