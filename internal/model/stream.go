package model

// StreamState is the connection state of a data source.
type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamError
	StreamReconnecting
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "DISCONNECTED"
	case StreamConnecting:
		return "CONNECTING"
	case StreamConnected:
		return "CONNECTED"
	case StreamError:
		return "ERROR"
	case StreamReconnecting:
		return "RECONNECTING"
	}
	return "UNKNOWN"
}

// StreamStatus pairs the connection state with the last error cause.
// Reason is empty unless State is StreamError.
type StreamStatus struct {
	State  StreamState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}
