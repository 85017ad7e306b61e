package webrtc

import (
	"context"
	"fmt"
	"sync"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
	"zonecast/internal/core/services"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// MeshDialer opens direct peer-to-peer links for the proximity mesh.
// Trickle ICE candidates are relayed to the remote user as they gather.
type MeshDialer struct {
	self   domain.UserID
	relay  ports.SignalingRelay
	config EngineConfig
	logger *zap.SugaredLogger
}

func NewMeshDialer(self domain.UserID, relay ports.SignalingRelay, config EngineConfig, logger *zap.Logger) ports.MeshDialer {
	return &MeshDialer{
		self:   self,
		relay:  relay,
		config: config,
		logger: logger.Sugar(),
	}
}

// Dial opens an initiator link and returns the offer SDP to relay.
func (d *MeshDialer) Dial(ctx context.Context, remote domain.UserID, onFailed func()) (ports.PeerLink, string, error) {
	link, err := d.newLink(remote, onFailed)
	if err != nil {
		return nil, "", err
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		link.Close()
		return nil, "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		link.Close()
		return nil, "", fmt.Errorf("failed to set local description: %w", err)
	}
	return link, offer.SDP, nil
}

// Answer accepts a remote offer and returns the answer SDP.
func (d *MeshDialer) Answer(ctx context.Context, remote domain.UserID, offerSDP string, onFailed func()) (ports.PeerLink, string, error) {
	link, err := d.newLink(remote, onFailed)
	if err != nil {
		return nil, "", err
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := link.pc.SetRemoteDescription(offer); err != nil {
		link.Close()
		return nil, "", fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		link.Close()
		return nil, "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		link.Close()
		return nil, "", fmt.Errorf("failed to set local description: %w", err)
	}
	return link, answer.SDP, nil
}

func (d *MeshDialer) newLink(remote domain.UserID, onFailed func()) (*peerLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: d.config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", fmt.Sprintf("zonecast-%s", d.self),
	)
	if err != nil {
		pc.Close()
		return nil, err
	}
	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", fmt.Sprintf("zonecast-%s", d.self),
	)
	if err != nil {
		pc.Close()
		return nil, err
	}

	audioSender, err := pc.AddTrack(audioTrack)
	if err != nil {
		pc.Close()
		return nil, err
	}
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		pc.Close()
		return nil, err
	}

	link := &peerLink{
		remote:      remote,
		pc:          pc,
		audioTrack:  audioTrack,
		videoTrack:  videoTrack,
		audioSender: audioSender,
		videoSender: videoSender,
		logger:      d.logger,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		err := d.relay.Send(string(remote), services.MsgMeshCandidate, services.MeshSignal{
			From:      d.self,
			Candidate: candidate.ToJSON().Candidate,
		})
		if err != nil {
			d.logger.Debugw("failed to relay ICE candidate", "remote", remote, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		d.logger.Debugw("mesh link state changed", "remote", remote, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			link.failOnce.Do(func() {
				if onFailed != nil {
					go onFailed()
				}
			})
		}
	})

	return link, nil
}

// peerLink is one live mesh connection. Mute toggles swap the sender's
// track out rather than tearing the link down.
type peerLink struct {
	remote      domain.UserID
	pc          *webrtc.PeerConnection
	audioTrack  *webrtc.TrackLocalStaticRTP
	videoTrack  *webrtc.TrackLocalStaticRTP
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	failOnce sync.Once
	logger   *zap.SugaredLogger
}

func (l *peerLink) HandleAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (l *peerLink) AddICECandidate(candidate string) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (l *peerLink) SetAudioEnabled(enabled bool) {
	l.replaceTrack(l.audioSender, l.audioTrack, enabled)
}

func (l *peerLink) SetVideoEnabled(enabled bool) {
	l.replaceTrack(l.videoSender, l.videoTrack, enabled)
}

func (l *peerLink) replaceTrack(sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticRTP, enabled bool) {
	var next webrtc.TrackLocal
	if enabled {
		next = track
	}
	if err := sender.ReplaceTrack(next); err != nil {
		l.logger.Debugw("failed to toggle track", "remote", l.remote, "enabled", enabled, "error", err)
	}
}

func (l *peerLink) Close() error {
	return l.pc.Close()
}
