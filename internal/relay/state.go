package relay

// State names one position in the per-connection machine. A connection loops
// Idle → Receiving → PersistingUser → Querying → Streaming → PersistingBot →
// Idle; Disconnected is terminal and reachable from anywhere.
type State int

const (
	StateConnecting State = iota
	StateIdle
	StateReceiving
	StatePersistingUser
	StateQuerying
	StateStreaming
	StatePersistingBot
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StatePersistingUser:
		return "persisting_user"
	case StateQuerying:
		return "querying"
	case StateStreaming:
		return "streaming"
	case StatePersistingBot:
		return "persisting_bot"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
