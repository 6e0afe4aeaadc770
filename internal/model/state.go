package model

// ConnState is the upstream connection lifecycle state. It is owned by the
// connection supervisor; everything else only observes it.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailing:
		return "failing"
	default:
		return "unknown"
	}
}
