package session

// Channel is one of the two independent socket purposes.
type Channel string

const (
	ChannelChat         Channel = "chat"
	ChannelNotification Channel = "notification"
)

// State is the lifecycle state of a Session.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
	// Degraded means reconnect attempts ran out. Only a new Connect leaves it.
	Degraded State = "degraded"
)

// live reports whether a transport exists or is being established.
func (s State) live() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}
