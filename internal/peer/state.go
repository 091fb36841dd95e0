package peer

// State is a chat session's position in the connection and handshake
// lifecycle.
type State int

const (
	// Disconnected means there is no relay connection.
	Disconnected State = iota
	// Connecting means a dial to the relay is in progress.
	Connecting
	// Connected means the relay connection is up and no other peer is known.
	Connected
	// PeerPresent means the other peer is connected to the relay.
	PeerPresent
	// HandshakeInProgress means handshake parameters arrived and the peer's
	// public value has not yet.
	HandshakeInProgress
	// Secure means a session key is set and messages can flow.
	Secure
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case PeerPresent:
		return "PeerPresent"
	case HandshakeInProgress:
		return "HandshakeInProgress"
	case Secure:
		return "Secure"
	}
	return "Unknown"
}

// peerPresent reports whether s implies the other peer is connected.
func (s State) peerPresent() bool {
	return s >= PeerPresent
}

// User-visible status texts.
const (
	StatusNotConnected  = "Not Connected"
	StatusConnected     = "Connected"
	StatusPeerConnected = "Connected, Another client connected"
	StatusSecure        = "Connected, Securely connected"
)
