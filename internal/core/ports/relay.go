package ports

// SignalingRelay is the addressed pipe over the external message bus.
// Delivery is best effort and at most once; each sender's messages reach
// a given recipient in send order, nothing is guaranteed across senders.
// The relay never interprets payload contents.
type SignalingRelay interface {
	Send(target string, msgType string, payload interface{}) error
}
