package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLink struct {
	mu       sync.Mutex
	remote   domain.UserID
	closed   bool
	answered string
	audio    bool
	video    bool
}

func (l *fakeLink) HandleAnswer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answered = sdp
	return nil
}

func (l *fakeLink) AddICECandidate(candidate string) error { return nil }

func (l *fakeLink) SetAudioEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audio = enabled
}

func (l *fakeLink) SetVideoEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.video = enabled
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    []domain.UserID
	answers  []domain.UserID
	links    map[domain.UserID]*fakeLink
	onFailed map[domain.UserID]func()
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		links:    make(map[domain.UserID]*fakeLink),
		onFailed: make(map[domain.UserID]func()),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, remote domain.UserID, onFailed func()) (ports.PeerLink, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	link := &fakeLink{remote: remote}
	d.dials = append(d.dials, remote)
	d.links[remote] = link
	d.onFailed[remote] = onFailed
	return link, fmt.Sprintf("offer-for-%s", remote), nil
}

func (d *fakeDialer) Answer(ctx context.Context, remote domain.UserID, offerSDP string, onFailed func()) (ports.PeerLink, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	link := &fakeLink{remote: remote}
	d.answers = append(d.answers, remote)
	d.links[remote] = link
	d.onFailed[remote] = onFailed
	return link, fmt.Sprintf("answer-for-%s", remote), nil
}

func (d *fakeDialer) dialCount(remote domain.UserID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, u := range d.dials {
		if u == remote {
			count++
		}
	}
	return count
}

type sentMessage struct {
	Target  string
	Type    string
	Payload interface{}
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *fakeRelay) Send(target string, msgType string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{Target: target, Type: msgType, Payload: payload})
	return nil
}

func (r *fakeRelay) sentTo(target string, msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.sent {
		if m.Target == target && m.Type == msgType {
			count++
		}
	}
	return count
}

func newTestCoordinator(self domain.UserID, dialer *fakeDialer, relay *fakeRelay, maxLinks int) *MeshTopologyCoordinator {
	return NewMeshTopologyCoordinator(self, relay, dialer, 150, maxLinks, zap.NewNop())
}

func TestCoordinatorLinksPeersWithinThreshold(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	relay := &fakeRelay{}
	c := newTestCoordinator("alice", dialer, relay, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 100, Y: 0}},
		{UserID: "carol", Position: domain.Position{X: 500, Y: 0}},
	})

	assert.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())
	assert.Equal(t, 1, relay.sentTo("bob", MsgMeshOffer))
	assert.Equal(t, 0, relay.sentTo("carol", MsgMeshOffer))
}

func TestCoordinatorDistanceExactlyAtThresholdExcluded(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 150, Y: 0}},
	})

	assert.Empty(t, c.LinkedPeers())
}

func TestCoordinatorZoneIsolation(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetZones(ctx, []domain.Zone{
		{ID: "booth", Bounds: domain.Rect{X1: 0, Y1: 0, X2: 50, Y2: 50}},
	})
	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 25, Y: 25}},
		// Close enough but outside the booth.
		{UserID: "bob", Position: domain.Position{X: 60, Y: 25}},
		// Inside the booth with alice.
		{UserID: "carol", Position: domain.Position{X: 30, Y: 30}},
	})

	assert.ElementsMatch(t, []domain.UserID{"carol"}, c.LinkedPeers())

	// Bob steps into the booth: link comes up on the next pass.
	c.UpsertPeer(ctx, "bob", domain.Position{X: 40, Y: 25})
	assert.ElementsMatch(t, []domain.UserID{"bob", "carol"}, c.LinkedPeers())
}

func TestCoordinatorMovingApartDestroysLink(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 100, Y: 0}},
	})
	require.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())
	link := dialer.links["bob"]

	c.UpsertPeer(ctx, "bob", domain.Position{X: 400, Y: 0})
	assert.Empty(t, c.LinkedPeers())
	assert.True(t, link.isClosed())
}

func TestCoordinatorInboundOfferNeverReinitiated(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	relay := &fakeRelay{}
	c := newTestCoordinator("alice", dialer, relay, 16)

	// Offer arrives before bob is in range of any pass.
	require.NoError(t, c.HandleOffer(ctx, "bob", "bob-offer"))
	assert.Equal(t, 1, relay.sentTo("bob", MsgMeshAnswer))
	assert.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())

	// A later pass that wants bob must not dial a second link.
	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 10, Y: 0}},
	})
	assert.Equal(t, 0, dialer.dialCount("bob"))
	assert.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())
}

func TestCoordinatorGlareLowerIDKeepsInitiatorRole(t *testing.T) {
	ctx := context.Background()

	// "bob" initiated toward "zed"; zed also initiated toward bob.
	// bob has the lower id so bob keeps the initiator role and ignores
	// zed's offer.
	dialer := newFakeDialer()
	relay := &fakeRelay{}
	bob := newTestCoordinator("bob", dialer, relay, 16)

	bob.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "bob", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "zed", Position: domain.Position{X: 10, Y: 0}},
	})
	require.Equal(t, 1, dialer.dialCount("zed"))

	require.NoError(t, bob.HandleOffer(ctx, "zed", "zed-offer"))
	assert.Equal(t, 0, relay.sentTo("zed", MsgMeshAnswer))
	assert.False(t, dialer.links["zed"].isClosed())
}

func TestCoordinatorGlareHigherIDYields(t *testing.T) {
	ctx := context.Background()

	// "zed" initiated toward "bob", then bob's offer arrives. bob has
	// the lower id, so zed closes its initiator link and answers.
	dialer := newFakeDialer()
	relay := &fakeRelay{}
	zed := newTestCoordinator("zed", dialer, relay, 16)

	zed.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "zed", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 10, Y: 0}},
	})
	require.Equal(t, 1, dialer.dialCount("bob"))
	initiatorLink := dialer.links["bob"]

	require.NoError(t, zed.HandleOffer(ctx, "bob", "bob-offer"))
	assert.True(t, initiatorLink.isClosed())
	assert.Equal(t, 1, relay.sentTo("bob", MsgMeshAnswer))
	assert.ElementsMatch(t, []domain.UserID{"bob"}, zed.LinkedPeers())
}

func TestCoordinatorAnswerWithoutInitiatorLinkIgnored(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	assert.NoError(t, c.HandleAnswer(ctx, "bob", "stray-answer"))
	assert.Empty(t, c.LinkedPeers())
}

func TestCoordinatorFailedLinkRetriedOnNextPass(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 100, Y: 0}},
	})
	require.Equal(t, 1, dialer.dialCount("bob"))
	firstLink := dialer.links["bob"]

	// ICE failure destroys the link but nothing else.
	dialer.onFailed["bob"]()
	assert.True(t, firstLink.isClosed())
	assert.Empty(t, c.LinkedPeers())

	// Bob is still desired, so the next event re-dials.
	c.UpsertPeer(ctx, "bob", domain.Position{X: 90, Y: 0})
	assert.Equal(t, 2, dialer.dialCount("bob"))
	assert.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())
}

func TestCoordinatorDegreeCapNearestWin(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 2)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "near", Position: domain.Position{X: 10, Y: 0}},
		{UserID: "mid", Position: domain.Position{X: 50, Y: 0}},
		{UserID: "far", Position: domain.Position{X: 120, Y: 0}},
	})

	assert.ElementsMatch(t, []domain.UserID{"near", "mid"}, c.LinkedPeers())
}

func TestCoordinatorMuteKeepsLinks(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 100, Y: 0}},
	})
	require.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())
	link := dialer.links["bob"]

	c.SetAudioEnabled(false)
	assert.False(t, link.isClosed())
	link.mu.Lock()
	assert.False(t, link.audio)
	link.mu.Unlock()

	c.SetAudioEnabled(true)
	link.mu.Lock()
	assert.True(t, link.audio)
	link.mu.Unlock()
	assert.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())
}

func TestCoordinatorRemovePeerClosesLink(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 100, Y: 0}},
	})
	require.ElementsMatch(t, []domain.UserID{"bob"}, c.LinkedPeers())

	c.RemovePeer(ctx, "bob")
	assert.Empty(t, c.LinkedPeers())
	assert.True(t, dialer.links["bob"].isClosed())
}

func TestCoordinatorCloseDestroysEverything(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	c := newTestCoordinator("alice", dialer, &fakeRelay{}, 16)

	c.SetRoster(ctx, []domain.RosterEntry{
		{UserID: "alice", Position: domain.Position{X: 0, Y: 0}},
		{UserID: "bob", Position: domain.Position{X: 100, Y: 0}},
	})
	c.Close()

	assert.Empty(t, c.LinkedPeers())
	assert.True(t, dialer.links["bob"].isClosed())

	// Events after close are no-ops.
	assert.NoError(t, c.HandleOffer(ctx, "carol", "offer"))
	assert.Empty(t, c.LinkedPeers())
}
