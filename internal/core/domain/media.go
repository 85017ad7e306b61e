package domain

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// ProducerInfo is the room-wide directory entry for a producer owned by
// exactly one peer session.
type ProducerInfo struct {
	ProducerID ProducerID `json:"producer_id"`
	UserID     UserID     `json:"user_id"`
	Kind       MediaKind  `json:"kind"`
}

// MediaState carries advisory mute/camera flags. It never gates
// producer or consumer creation; the authoritative mute is whether a
// track exists on the sender side.
type MediaState struct {
	UserID       UserID `json:"user_id"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

// DefaultMediaState is seeded on first join of a user into a room.
func DefaultMediaState(userID UserID) MediaState {
	return MediaState{UserID: userID, AudioEnabled: true, VideoEnabled: true}
}

type RTPCodecCapability struct {
	MimeType  string `json:"mime_type"`
	ClockRate uint32 `json:"clock_rate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// RTPCapabilities describe what a router or receiver can encode/decode.
type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

// Supports reports whether the capabilities include the given codec.
func (c RTPCapabilities) Supports(codec RTPCodecCapability) bool {
	for _, candidate := range c.Codecs {
		if candidate.MimeType == codec.MimeType {
			return true
		}
	}
	return false
}

// RTPParameters describe one produced media stream.
type RTPParameters struct {
	Codec RTPCodecCapability `json:"codec"`
	SSRC  uint32             `json:"ssrc"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters complete the encryption handshake for a transport.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportParams are returned to the client so it can connect the
// matching WebRTC transport on its side.
type TransportParams struct {
	TransportID TransportID        `json:"transport_id"`
	Direction   TransportDirection `json:"direction"`
	ICEUfrag    string             `json:"ice_ufrag"`
	ICEPwd      string             `json:"ice_pwd"`
	DTLS        DTLSParameters     `json:"dtls"`
}

// ConsumerParams are returned from a successful consume call. Consumers
// start paused and must be resumed explicitly.
type ConsumerParams struct {
	ConsumerID    ConsumerID    `json:"consumer_id"`
	ProducerID    ProducerID    `json:"producer_id"`
	UserID        UserID        `json:"user_id"`
	Kind          MediaKind     `json:"kind"`
	RTPParameters RTPParameters `json:"rtp_parameters"`
}

// JoinSnapshot is the authoritative room view returned from join.
type JoinSnapshot struct {
	RouterCapabilities RTPCapabilities `json:"router_capabilities"`
	Producers          []ProducerInfo  `json:"producers"`
	MediaStates        []MediaState    `json:"media_states"`
}
