package signal

// RelayFunc adapts a function to ports.SignalingRelay. Used to break
// the construction cycle between the registry and the socket server.
type RelayFunc func(target string, msgType string, payload interface{}) error

func (f RelayFunc) Send(target string, msgType string, payload interface{}) error {
	return f(target, msgType, payload)
}
