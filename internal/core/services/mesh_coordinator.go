package services

import (
	"context"
	"sort"
	"sync"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"go.uber.org/zap"
)

// MeshSignal is the payload relayed between peers while negotiating a
// direct link.
type MeshSignal struct {
	From      domain.UserID `json:"from"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate string        `json:"candidate,omitempty"`
}

const (
	MsgMeshOffer     = "mesh:offer"
	MsgMeshAnswer    = "mesh:answer"
	MsgMeshCandidate = "mesh:ice-candidate"
)

type meshLink struct {
	link      ports.PeerLink
	initiator bool
}

// MeshTopologyCoordinator keeps the set of live peer links equal to the
// desired set derived from proximity and zone co-residency. One
// instance runs per connected user; every event handler takes the same
// mutex, so reconciliation passes never overlap.
type MeshTopologyCoordinator struct {
	self   domain.UserID
	relay  ports.SignalingRelay
	dialer ports.MeshDialer

	threshold float64
	maxLinks  int

	mu           sync.Mutex
	position     domain.Position
	zones        []domain.Zone
	roster       map[domain.UserID]domain.Position
	links        map[domain.UserID]*meshLink
	audioEnabled bool
	videoEnabled bool
	closed       bool

	logger *zap.SugaredLogger
}

// NewMeshTopologyCoordinator creates a coordinator for the local user.
// threshold is the proximity cutoff in world units; maxLinks caps the
// mesh degree, nearest peers winning when the cap is exceeded.
func NewMeshTopologyCoordinator(
	self domain.UserID,
	relay ports.SignalingRelay,
	dialer ports.MeshDialer,
	threshold float64,
	maxLinks int,
	logger *zap.Logger,
) *MeshTopologyCoordinator {
	return &MeshTopologyCoordinator{
		self:         self,
		relay:        relay,
		dialer:       dialer,
		threshold:    threshold,
		maxLinks:     maxLinks,
		roster:       make(map[domain.UserID]domain.Position),
		links:        make(map[domain.UserID]*meshLink),
		audioEnabled: true,
		videoEnabled: true,
		logger:       logger.Sugar(),
	}
}

// SetZones replaces the zone set and reconciles.
func (c *MeshTopologyCoordinator) SetZones(ctx context.Context, zones []domain.Zone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones = zones
	c.reconcile(ctx)
}

// UpdateSelfPosition moves the local user and reconciles.
func (c *MeshTopologyCoordinator) UpdateSelfPosition(ctx context.Context, pos domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = pos
	c.reconcile(ctx)
}

// UpsertPeer records a remote user's position and reconciles.
func (c *MeshTopologyCoordinator) UpsertPeer(ctx context.Context, userID domain.UserID, pos domain.Position) {
	if userID == c.self {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster[userID] = pos
	c.reconcile(ctx)
}

// RemovePeer drops a user from the roster, destroying any link to them.
func (c *MeshTopologyCoordinator) RemovePeer(ctx context.Context, userID domain.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roster, userID)
	c.reconcile(ctx)
}

// SetRoster replaces the whole roster snapshot and reconciles.
func (c *MeshTopologyCoordinator) SetRoster(ctx context.Context, entries []domain.RosterEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = make(map[domain.UserID]domain.Position, len(entries))
	for _, entry := range entries {
		if entry.UserID == c.self {
			c.position = entry.Position
			continue
		}
		c.roster[entry.UserID] = entry.Position
	}
	c.reconcile(ctx)
}

// HandleOffer answers an inbound offer. An offer for a user we hold no
// link for is always accepted, never re-initiated; this is the glare
// rule that keeps the mesh at one link per pair. When both sides
// initiated simultaneously, the lower user id keeps its initiator role.
func (c *MeshTopologyCoordinator) HandleOffer(ctx context.Context, from domain.UserID, sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	if existing, ok := c.links[from]; ok {
		if !existing.initiator {
			// Remote restarted negotiation; replace our responder link.
			existing.link.Close()
			delete(c.links, from)
		} else if from < c.self {
			// Glare: remote id wins the initiator role, yield ours.
			existing.link.Close()
			delete(c.links, from)
		} else {
			// Glare: we keep the initiator role, remote will answer ours.
			return nil
		}
	}

	link, answer, err := c.dialer.Answer(ctx, from, sdp, c.failureHandler(from))
	if err != nil {
		c.logger.Warnw("failed to answer mesh offer", "from", from, "error", err)
		return err
	}
	link.SetAudioEnabled(c.audioEnabled)
	link.SetVideoEnabled(c.videoEnabled)
	c.links[from] = &meshLink{link: link, initiator: false}

	return c.relay.Send(string(from), MsgMeshAnswer, MeshSignal{From: c.self, SDP: answer})
}

// HandleAnswer completes negotiation for a link we initiated.
func (c *MeshTopologyCoordinator) HandleAnswer(ctx context.Context, from domain.UserID, sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.links[from]
	if !ok || !existing.initiator {
		c.logger.Debugw("dropping answer without matching initiator link", "from", from)
		return nil
	}
	if err := existing.link.HandleAnswer(sdp); err != nil {
		existing.link.Close()
		delete(c.links, from)
		return err
	}
	return nil
}

// HandleCandidate feeds a relayed ICE candidate into the matching link.
func (c *MeshTopologyCoordinator) HandleCandidate(ctx context.Context, from domain.UserID, candidate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.links[from]
	if !ok {
		return nil
	}
	return existing.link.AddICECandidate(candidate)
}

// SetAudioEnabled mutes/unmutes local audio on every link without
// tearing any of them down.
func (c *MeshTopologyCoordinator) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = enabled
	for _, l := range c.links {
		l.link.SetAudioEnabled(enabled)
	}
}

// SetVideoEnabled mutes/unmutes local video on every link.
func (c *MeshTopologyCoordinator) SetVideoEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = enabled
	for _, l := range c.links {
		l.link.SetVideoEnabled(enabled)
	}
}

// LinkedPeers returns the users the local client currently holds a
// link to.
func (c *MeshTopologyCoordinator) LinkedPeers() []domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := make([]domain.UserID, 0, len(c.links))
	for userID := range c.links {
		peers = append(peers, userID)
	}
	return peers
}

// Close destroys every link.
func (c *MeshTopologyCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for userID, l := range c.links {
		l.link.Close()
		delete(c.links, userID)
	}
}

// desiredPeers computes the set of users the local client should be
// linked to: within the proximity threshold and co-resident, nearest
// first, capped at maxLinks. An empty zone set means everyone is
// co-resident.
func (c *MeshTopologyCoordinator) desiredPeers() map[domain.UserID]bool {
	type candidate struct {
		userID   domain.UserID
		distance float64
	}

	candidates := make([]candidate, 0, len(c.roster))
	for userID, pos := range c.roster {
		dist := c.position.Distance(pos)
		if dist >= c.threshold {
			continue
		}
		if !CoResident(c.position, pos, c.zones) {
			continue
		}
		candidates = append(candidates, candidate{userID: userID, distance: dist})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].userID < candidates[j].userID
	})
	if len(candidates) > c.maxLinks {
		candidates = candidates[:c.maxLinks]
	}

	desired := make(map[domain.UserID]bool, len(candidates))
	for _, cand := range candidates {
		desired[cand.userID] = true
	}
	return desired
}

// reconcile drives the actual link set toward the desired set. Caller
// holds c.mu.
func (c *MeshTopologyCoordinator) reconcile(ctx context.Context) {
	if c.closed {
		return
	}

	desired := c.desiredPeers()

	for userID, l := range c.links {
		_, present := c.roster[userID]
		if desired[userID] && present {
			continue
		}
		l.link.Close()
		delete(c.links, userID)
		c.logger.Debugw("mesh link destroyed", "remote", userID)
	}

	for userID := range desired {
		if _, ok := c.links[userID]; ok {
			continue
		}
		link, offer, err := c.dialer.Dial(ctx, userID, c.failureHandler(userID))
		if err != nil {
			c.logger.Warnw("failed to open mesh link", "remote", userID, "error", err)
			continue
		}
		link.SetAudioEnabled(c.audioEnabled)
		link.SetVideoEnabled(c.videoEnabled)
		c.links[userID] = &meshLink{link: link, initiator: true}

		if err := c.relay.Send(string(userID), MsgMeshOffer, MeshSignal{From: c.self, SDP: offer}); err != nil {
			c.logger.Warnw("failed to relay mesh offer", "remote", userID, "error", err)
			link.Close()
			delete(c.links, userID)
			continue
		}
		c.logger.Debugw("mesh link initiated", "remote", userID)
	}
}

// failureHandler destroys the link on ICE/DTLS failure. The pair is
// retried only by a later reconciliation pass if still desired.
func (c *MeshTopologyCoordinator) failureHandler(userID domain.UserID) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if l, ok := c.links[userID]; ok {
			l.link.Close()
			delete(c.links, userID)
			c.logger.Infow("mesh link failed", "remote", userID)
		}
	}
}
