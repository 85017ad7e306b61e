package domain

import "fmt"

type UserID string
type SocketID string
type RoomID string
type ChannelID string
type ZoneID string
type TransportID string
type ProducerID string
type ConsumerID string

// RoomKey identifies one media router instance. It is a structured key so
// that ids containing the separator cannot collide with another key.
type RoomKey struct {
	RoomID    RoomID
	ChannelID ChannelID
}

func NewRoomKey(roomID RoomID, channelID ChannelID) RoomKey {
	return RoomKey{RoomID: roomID, ChannelID: channelID}
}

// String renders the wire form used in signaling payloads and metrics labels.
func (k RoomKey) String() string {
	return fmt.Sprintf("%s:%s", k.RoomID, k.ChannelID)
}
