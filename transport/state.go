package transport

// State is the connection state of a Channel. It is owned by the
// transport and read-only everywhere else; sends are routed through the
// fallback path whenever the state is not StateConnected.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}
