package live

type EventType int

const (
	EventOpen EventType = iota
	EventAudio
	EventInterrupted
	EventTranscript
	EventTurnComplete
	EventFunctionCall
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventFunctionCall:
		return "function_call"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is the union delivered on a connection's event channel. Exactly one
// payload group is populated, selected by Type.
type Event struct {
	Type EventType

	// EventAudio
	Audio []byte

	// EventTranscript
	Text    string
	IsUser  bool
	IsFinal bool

	// EventFunctionCall
	Call *FunctionCall

	// EventClosed; nil on clean shutdown, ErrCredential-wrapped on key
	// failures.
	Err error
}
