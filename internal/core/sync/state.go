package sync

// State of a peer session. The machine has no terminal state: Error always
// leads back to Connecting, and Offline waits for an explicit Reconnect.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Syncing
	Synced
	Error
	Offline
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Error:
		return "error"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Linked reports whether a transport link is up in this state.
func (s State) Linked() bool {
	return s == Connected || s == Syncing || s == Synced
}

// rank orders states by how useful they are to a caller asking "how synced am
// I", used to fold many sessions into one state.
func (s State) rank() int {
	switch s {
	case Synced:
		return 6
	case Syncing:
		return 5
	case Connected:
		return 4
	case Connecting:
		return 3
	case Error:
		return 2
	case Offline:
		return 1
	default:
		return 0
	}
}

// Fold returns the most advanced of states, Disconnected for none.
func Fold(states ...State) State {
	out := Disconnected
	for _, s := range states {
		if s.rank() > out.rank() {
			out = s
		}
	}
	return out
}
