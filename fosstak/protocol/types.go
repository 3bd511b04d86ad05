package protocol

// Action says what a record asks the receiving stream to do.
type Action uint8

const (
	ActionTransmit Action = 1
	ActionPing     Action = 2
	ActionClose    Action = 3
)

func (a Action) Valid() bool {
	return a >= ActionTransmit && a <= ActionClose
}

func (a Action) String() string {
	switch a {
	case ActionTransmit:
		return "TRANSMIT"
	case ActionPing:
		return "PING"
	case ActionClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}
