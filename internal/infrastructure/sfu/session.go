package sfu

import (
	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"
)

type consumerEntry struct {
	consumer   ports.Consumer
	producerID domain.ProducerID
}

// PeerSession is the per-socket resource scope inside one room. Every
// transport, producer and consumer in its maps is owned exclusively by
// this session; nothing here is shared across sessions. All access goes
// through the owning room's lock.
type PeerSession struct {
	socketID domain.SocketID
	userID   domain.UserID

	transports map[domain.TransportID]ports.Transport
	producers  map[domain.ProducerID]ports.Producer
	consumers  map[domain.ConsumerID]consumerEntry
}

func newPeerSession(socketID domain.SocketID, userID domain.UserID) *PeerSession {
	return &PeerSession{
		socketID:   socketID,
		userID:     userID,
		transports: make(map[domain.TransportID]ports.Transport),
		producers:  make(map[domain.ProducerID]ports.Producer),
		consumers:  make(map[domain.ConsumerID]consumerEntry),
	}
}

// consumersOf returns the ids of this session's consumers attached to
// the given producer.
func (s *PeerSession) consumersOf(producerID domain.ProducerID) []domain.ConsumerID {
	var ids []domain.ConsumerID
	for id, entry := range s.consumers {
		if entry.producerID == producerID {
			ids = append(ids, id)
		}
	}
	return ids
}

// closeAll releases every resource the session still holds, including
// anything left half-created by a caller that disconnected
// mid-negotiation. Consumers first, then producers, then transports.
func (s *PeerSession) closeAll() {
	for id, entry := range s.consumers {
		entry.consumer.Close()
		delete(s.consumers, id)
	}
	for id, producer := range s.producers {
		producer.Close()
		delete(s.producers, id)
	}
	for id, transport := range s.transports {
		transport.Close()
		delete(s.transports, id)
	}
}
