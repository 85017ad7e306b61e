package ports

import (
	"context"

	"zonecast/internal/core/domain"
)

// PeerLink is one direct WebRTC connection to a remote user, owned
// exclusively by the local mesh coordinator.
type PeerLink interface {
	HandleAnswer(sdp string) error
	AddICECandidate(candidate string) error
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// MeshDialer creates peer links. Dial opens an initiator link and
// returns the offer SDP to relay; Answer accepts a remote offer and
// returns the answer SDP. onFailed fires at most once, from its own
// goroutine, if the link later fails (ICE/DTLS); the coordinator
// destroys the link and leaves any retry to the next reconciliation
// pass.
type MeshDialer interface {
	Dial(ctx context.Context, remote domain.UserID, onFailed func()) (PeerLink, string, error)
	Answer(ctx context.Context, remote domain.UserID, offerSDP string, onFailed func()) (PeerLink, string, error)
}
