package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
	"zonecast/internal/core/services"
	apperrors "zonecast/pkg/errors"
	"zonecast/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced via the signaling token
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics is what the server reports to the monitoring layer.
type Metrics interface {
	SocketConnected()
	SocketDisconnected()
	MessageHandled(msgType string, seconds float64)
}

// Publisher mirrors pushes to sibling signaling nodes. Optional; a
// single-node deployment runs without one.
type Publisher interface {
	Publish(ctx context.Context, roomID domain.RoomID, msgType string, payload interface{}) error
	PublishDirected(ctx context.Context, userID domain.UserID, msgType string, payload interface{}) error
}

// Config carries the socket-level tunables.
type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

type client struct {
	socketID domain.SocketID
	userID   domain.UserID
	conn     *websocket.Conn

	writeMu sync.Mutex
	limiter *rate.Limiter

	mu     sync.Mutex
	joined map[domain.RoomID]bool
}

func (c *client) write(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func (c *client) joinRoom(roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[roomID] = true
}

func (c *client) leaveRoom(roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, roomID)
}

func (c *client) joinedRooms() []domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]domain.RoomID, 0, len(c.joined))
	for roomID := range c.joined {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Server is the signaling relay: an addressed pipe between sockets plus
// the dispatch point for SFU control requests. It holds no media state
// of its own.
type Server struct {
	registry ports.RoomRegistry
	roster   ports.RosterService
	auth     services.AuthService
	config   Config
	metrics  Metrics

	mu          sync.RWMutex
	connections map[domain.SocketID]*client
	userSockets map[domain.UserID]domain.SocketID
	roomMembers map[domain.RoomID]map[domain.SocketID]bool

	publisher Publisher

	logger *zap.SugaredLogger
}

func NewServer(
	registry ports.RoomRegistry,
	roster ports.RosterService,
	auth services.AuthService,
	config Config,
	metrics Metrics,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry:    registry,
		roster:      roster,
		auth:        auth,
		config:      config,
		metrics:     metrics,
		connections: make(map[domain.SocketID]*client),
		userSockets: make(map[domain.UserID]domain.SocketID),
		roomMembers: make(map[domain.RoomID]map[domain.SocketID]bool),
		logger:      logger.Sugar(),
	}
}

// SetPublisher attaches the cross-node push mirror. Must be called
// before the first connection is accepted.
func (s *Server) SetPublisher(p Publisher) {
	s.publisher = p
}

// Send implements ports.SignalingRelay. The target is a socket id or,
// for mesh relaying, a user id. Per-sender ordering is preserved by the
// per-client write lock. When the target is not connected here and a
// publisher is attached, the message is handed to the other nodes.
func (s *Server) Send(target string, msgType string, payload interface{}) error {
	err := s.SendLocal(target, msgType, payload)
	if err != nil && s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		defer cancel()
		return s.publisher.PublishDirected(ctx, domain.UserID(target), msgType, payload)
	}
	return err
}

// SendLocal delivers to a socket attached to this node only.
func (s *Server) SendLocal(target string, msgType string, payload interface{}) error {
	s.mu.RLock()
	c, ok := s.connections[domain.SocketID(target)]
	if !ok {
		if socketID, mapped := s.userSockets[domain.UserID(target)]; mapped {
			c, ok = s.connections[socketID]
		}
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("endpoint %s not connected", target)
	}
	return c.write(Envelope{Type: msgType, Payload: payload}, s.config.WriteTimeout)
}

// HandleWebSocket upgrades the connection, authenticates the signaling
// token and runs the message loop until disconnect.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid signaling token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	c := &client{
		socketID: domain.SocketID(utils.GenerateSocketID()),
		userID:   claims.UserID,
		conn:     conn,
		joined:   make(map[domain.RoomID]bool),
	}
	if s.config.RateLimitEnabled {
		c.limiter = rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.Burst)
	}

	s.register(c)
	s.metrics.SocketConnected()
	s.logger.Infow("socket connected", "socket_id", c.socketID, "user_id", c.userID)

	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			s.dispatch(c, msg)

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "socket_id", c.socketID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "socket_id", c.socketID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.disconnect(c)
}

// disconnect runs the implicit leave for everything the socket touched.
func (s *Server) disconnect(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()

	s.registry.LeaveAll(ctx, c.socketID)

	for _, roomID := range c.joinedRooms() {
		s.leavePresence(ctx, c, roomID)
	}

	s.unregister(c)
	s.metrics.SocketDisconnected()
	s.logger.Infow("socket disconnected", "socket_id", c.socketID, "user_id", c.userID)
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.socketID] = c
	s.userSockets[c.userID] = c.socketID
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, c.socketID)
	if s.userSockets[c.userID] == c.socketID {
		delete(s.userSockets, c.userID)
	}
	for roomID, members := range s.roomMembers {
		delete(members, c.socketID)
		if len(members) == 0 {
			delete(s.roomMembers, roomID)
		}
	}
}

func (s *Server) dispatch(c *client, msg Message) {
	if msg.Type == "" {
		s.sendErr(c, msg.RequestID, apperrors.NewInvalidInputError("message type is required"))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		s.sendErr(c, msg.RequestID, apperrors.NewRateLimitError())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()

	started := time.Now()
	var err error

	switch msg.Type {
	case services.MsgMeshOffer, services.MsgMeshAnswer, services.MsgMeshCandidate:
		err = s.handleMeshRelay(c, msg)
	case MsgRoomJoin:
		err = s.handleRoomJoin(ctx, c, msg)
	case MsgRoomLeave:
		err = s.handleRoomLeave(ctx, c, msg)
	case MsgMove:
		err = s.handleMove(ctx, c, msg)
	case MsgSFUJoin:
		err = s.handleSFUJoin(ctx, c, msg)
	case MsgSFUCreateTransport:
		err = s.handleSFUCreateTransport(ctx, c, msg)
	case MsgSFUConnectTransport:
		err = s.handleSFUConnectTransport(ctx, c, msg)
	case MsgSFUProduce:
		err = s.handleSFUProduce(ctx, c, msg)
	case MsgSFUConsume:
		err = s.handleSFUConsume(ctx, c, msg)
	case MsgSFUResume:
		err = s.handleSFUResume(ctx, c, msg)
	case MsgSFULeave:
		err = s.handleSFULeave(ctx, c, msg)
	case MsgSFUMediaState:
		err = s.handleSFUMediaState(ctx, c, msg)
	default:
		err = apperrors.NewInvalidInputError(fmt.Sprintf("unknown message type: %s", msg.Type))
	}

	s.metrics.MessageHandled(msg.Type, time.Since(started).Seconds())

	if err != nil {
		s.logger.Infow("error handling message",
			"socket_id", c.socketID,
			"type", msg.Type,
			"error", err,
		)
		if appErr := apperrors.GetAppError(err); appErr != nil {
			s.sendErr(c, msg.RequestID, appErr)
		} else {
			s.sendErr(c, msg.RequestID, apperrors.FromDomain(err))
		}
	}
}

// handleMeshRelay forwards offer/answer/candidate frames to the target
// user untouched apart from stamping the sender.
func (s *Server) handleMeshRelay(c *client, msg Message) error {
	var payload MeshRelayPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid mesh relay payload")
	}
	if payload.TargetUserID == "" {
		return apperrors.NewInvalidInputError("target_user_id is required")
	}

	signalPayload := services.MeshSignal{
		From:      c.userID,
		SDP:       payload.SDP,
		Candidate: payload.Candidate,
	}
	if err := s.Send(string(payload.TargetUserID), msg.Type, signalPayload); err != nil {
		// Best effort: the target may have just disconnected.
		s.logger.Debugw("mesh relay target unavailable",
			"from", c.userID,
			"target", payload.TargetUserID,
			"type", msg.Type,
		)
	}
	return nil
}

func (s *Server) handleRoomJoin(ctx context.Context, c *client, msg Message) error {
	var payload RoomJoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid room:join payload")
	}
	if payload.RoomID == "" {
		return apperrors.NewInvalidInputError("room_id is required")
	}

	if err := s.roster.Join(ctx, payload.RoomID, c.userID, payload.Position); err != nil {
		return err
	}
	c.joinRoom(payload.RoomID)

	s.mu.Lock()
	if s.roomMembers[payload.RoomID] == nil {
		s.roomMembers[payload.RoomID] = make(map[domain.SocketID]bool)
	}
	s.roomMembers[payload.RoomID][c.socketID] = true
	s.mu.Unlock()

	snapshot, err := s.roster.Snapshot(ctx, payload.RoomID)
	if err != nil {
		return err
	}

	s.broadcastToRoom(payload.RoomID, c.socketID, MsgRoomUserJoin, PresencePush{
		RoomID:   payload.RoomID,
		UserID:   c.userID,
		Position: payload.Position,
	})
	s.sendAck(c, msg.RequestID, RosterPush{RoomID: payload.RoomID, Roster: snapshot})
	return nil
}

func (s *Server) handleRoomLeave(ctx context.Context, c *client, msg Message) error {
	var payload RoomLeavePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid room:leave payload")
	}
	s.leavePresence(ctx, c, payload.RoomID)
	s.sendAck(c, msg.RequestID, nil)
	return nil
}

func (s *Server) leavePresence(ctx context.Context, c *client, roomID domain.RoomID) {
	if err := s.roster.Leave(ctx, roomID, c.userID); err != nil {
		s.logger.Warnw("failed to remove user from roster", "room_id", roomID, "user_id", c.userID, "error", err)
	}
	c.leaveRoom(roomID)

	s.mu.Lock()
	if members, ok := s.roomMembers[roomID]; ok {
		delete(members, c.socketID)
		if len(members) == 0 {
			delete(s.roomMembers, roomID)
		}
	}
	s.mu.Unlock()

	s.broadcastToRoom(roomID, c.socketID, MsgRoomUserLeft, PresencePush{
		RoomID: roomID,
		UserID: c.userID,
	})
}

func (s *Server) handleMove(ctx context.Context, c *client, msg Message) error {
	var payload MovePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid move payload")
	}

	if err := s.roster.Move(ctx, payload.RoomID, c.userID, payload.Position); err != nil {
		return err
	}

	s.broadcastToRoom(payload.RoomID, c.socketID, MsgMove, MoveBroadcast{
		RoomID:   payload.RoomID,
		UserID:   c.userID,
		Position: payload.Position,
	})
	return nil
}

func (s *Server) handleSFUJoin(ctx context.Context, c *client, msg Message) error {
	var payload SFUJoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:join payload")
	}
	if payload.RoomID == "" || payload.ChannelID == "" {
		return apperrors.NewInvalidInputError("room_id and channel_id are required")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	snapshot, err := s.registry.Join(ctx, key, c.socketID, c.userID)
	if err != nil {
		return err
	}
	s.sendAck(c, msg.RequestID, snapshot)
	return nil
}

func (s *Server) handleSFUCreateTransport(ctx context.Context, c *client, msg Message) error {
	var payload SFUCreateTransportPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:createTransport payload")
	}
	if payload.Direction != domain.DirectionSend && payload.Direction != domain.DirectionRecv {
		return apperrors.NewInvalidInputError("direction must be send or recv")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	params, err := s.registry.CreateTransport(ctx, key, c.socketID, payload.Direction)
	if err != nil {
		return err
	}
	s.sendAck(c, msg.RequestID, params)
	return nil
}

func (s *Server) handleSFUConnectTransport(ctx context.Context, c *client, msg Message) error {
	var payload SFUConnectTransportPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:connectTransport payload")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	if err := s.registry.ConnectTransport(ctx, key, c.socketID, payload.TransportID, payload.DTLS); err != nil {
		return err
	}
	s.sendAck(c, msg.RequestID, nil)
	return nil
}

func (s *Server) handleSFUProduce(ctx context.Context, c *client, msg Message) error {
	var payload SFUProducePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:produce payload")
	}
	if payload.Kind != domain.MediaKindAudio && payload.Kind != domain.MediaKindVideo {
		return apperrors.NewInvalidInputError("kind must be audio or video")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	producerID, err := s.registry.Produce(ctx, key, c.socketID, payload.TransportID, payload.Kind, payload.RTPParameters)
	if err != nil {
		return err
	}
	s.sendAck(c, msg.RequestID, SFUProduceResult{ProducerID: producerID})
	return nil
}

func (s *Server) handleSFUConsume(ctx context.Context, c *client, msg Message) error {
	var payload SFUConsumePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:consume payload")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	params, err := s.registry.Consume(ctx, key, c.socketID, payload.TransportID, payload.ProducerID, payload.Capabilities)
	if err != nil {
		return err
	}
	s.sendAck(c, msg.RequestID, params)
	return nil
}

func (s *Server) handleSFUResume(ctx context.Context, c *client, msg Message) error {
	var payload SFUResumePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:resume payload")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	if err := s.registry.Resume(ctx, key, c.socketID, payload.ConsumerID); err != nil {
		return err
	}
	s.sendAck(c, msg.RequestID, nil)
	return nil
}

// handleSFULeave is fire-and-forget per the protocol; errors are only
// logged through the dispatch path.
func (s *Server) handleSFULeave(ctx context.Context, c *client, msg Message) error {
	var payload SFULeavePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:leave payload")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	if err := s.registry.Leave(ctx, key, c.socketID); err != nil {
		s.logger.Debugw("sfu leave for unknown session", "socket_id", c.socketID, "room", key.String())
	}
	return nil
}

func (s *Server) handleSFUMediaState(ctx context.Context, c *client, msg Message) error {
	var payload SFUMediaStatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.NewInvalidInputError("invalid sfu:mediaState payload")
	}

	key := domain.NewRoomKey(payload.RoomID, payload.ChannelID)
	return s.registry.SetMediaState(ctx, key, c.userID, payload.AudioEnabled, payload.VideoEnabled)
}

func (s *Server) broadcastToRoom(roomID domain.RoomID, exclude domain.SocketID, msgType string, payload interface{}) {
	s.deliverToRoom(roomID, exclude, msgType, payload)

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, roomID, msgType, payload); err != nil {
			s.logger.Debugw("failed to mirror broadcast", "room_id", roomID, "type", msgType, "error", err)
		}
	}
}

// BroadcastLocal delivers a push mirrored from another node to the
// members attached here. It never republishes.
func (s *Server) BroadcastLocal(roomID domain.RoomID, msgType string, payload interface{}) {
	s.deliverToRoom(roomID, "", msgType, payload)
}

func (s *Server) deliverToRoom(roomID domain.RoomID, exclude domain.SocketID, msgType string, payload interface{}) {
	s.mu.RLock()
	targets := make([]*client, 0)
	for socketID := range s.roomMembers[roomID] {
		if socketID == exclude {
			continue
		}
		if member, ok := s.connections[socketID]; ok {
			targets = append(targets, member)
		}
	}
	s.mu.RUnlock()

	for _, member := range targets {
		if err := member.write(Envelope{Type: msgType, Payload: payload}, s.config.WriteTimeout); err != nil {
			s.logger.Debugw("failed to broadcast", "target", member.socketID, "type", msgType, "error", err)
		}
	}
}

func (s *Server) sendAck(c *client, requestID string, data interface{}) {
	if requestID == "" {
		return
	}
	err := c.write(Envelope{Type: MsgAck, RequestID: requestID, Payload: Ack{OK: true, Data: data}}, s.config.WriteTimeout)
	if err != nil {
		s.logger.Debugw("failed to send ack", "socket_id", c.socketID, "error", err)
	}
}

func (s *Server) sendErr(c *client, requestID string, appErr *apperrors.AppError) {
	if requestID == "" {
		return
	}
	payload := Ack{
		OK:    false,
		Error: &ErrorInfo{Code: string(appErr.Code), Message: appErr.Message},
	}
	err := c.write(Envelope{Type: MsgAck, RequestID: requestID, Payload: payload}, s.config.WriteTimeout)
	if err != nil {
		s.logger.Debugw("failed to send error ack", "socket_id", c.socketID, "error", err)
	}
}

// ConnectionCount reports how many sockets are currently attached.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
