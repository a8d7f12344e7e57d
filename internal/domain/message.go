package domain

// Viewer message types
const (
	MessageStateUpdate = "STATE_UPDATE"
	MessageBuy         = "BUY"
	MessageSell        = "SELL"
)

// StateUpdateMessage is pushed to viewers on connect and on every change.
type StateUpdateMessage struct {
	Type  string     `json:"type"`
	State TowerState `json:"state"`
}

// InboundMessage is a command sent by a viewer.
type InboundMessage struct {
	Type string `json:"type"`
}

// SignalForMessage maps an inbound message type to a signal.
func SignalForMessage(msgType string) (Signal, bool) {
	switch msgType {
	case MessageBuy:
		return SignalBuy, true
	case MessageSell:
		return SignalSell, true
	default:
		return 0, false
	}
}
