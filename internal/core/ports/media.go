package ports

import (
	"context"

	"zonecast/internal/core/domain"
)

// MediaEngine creates routers. A router is the per-channel shared
// encoding context; everything below it (transports, producers,
// consumers) is owned by exactly one peer session.
type MediaEngine interface {
	NewRouter(ctx context.Context) (Router, error)
}

type Router interface {
	Capabilities() domain.RTPCapabilities
	NewTransport(ctx context.Context, direction domain.TransportDirection) (Transport, error)
	// CanConsume reports whether a receiver with the given capabilities
	// can decode what the producer encodes.
	CanConsume(producer Producer, receiver domain.RTPCapabilities) bool
	Close() error
}

type Transport interface {
	ID() domain.TransportID
	Params() domain.TransportParams
	Connect(ctx context.Context, dtls domain.DTLSParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (Producer, error)
	Consume(ctx context.Context, producer Producer, receiver domain.RTPCapabilities) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	RTPParameters() domain.RTPParameters
	Close() error
}

// Consumer starts paused; Resume begins delivery and requests a
// keyframe from the producing side.
type Consumer interface {
	ID() domain.ConsumerID
	Params() domain.ConsumerParams
	Resume() error
	Close() error
}
