package protocol

import (
	"encoding/json"
	"strings"

	"github.com/rickgao/marketsync/internal/model"
)

// Control actions sent from client to server.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ControlFrame is a client-to-server subscription request.
type ControlFrame struct {
	Action     string   `json:"action"`
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
	Exchange   string   `json:"exchange,omitempty"`
}

// Subscribe builds the subscribe frame for key.
func Subscribe(key model.SubscriptionKey) ControlFrame {
	return controlFrame(ActionSubscribe, key)
}

// Unsubscribe builds the unsubscribe frame for key.
func Unsubscribe(key model.SubscriptionKey) ControlFrame {
	return controlFrame(ActionUnsubscribe, key)
}

func controlFrame(action string, key model.SubscriptionKey) ControlFrame {
	return ControlFrame{
		Action:     action,
		Symbols:    []string{key.Instrument},
		Timeframes: []string{key.Timeframe.String()},
		Exchange:   key.Venue,
	}
}

// Encode marshals the frame for the wire.
func (f ControlFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Matches reports whether a message naming symbol and timeframe belongs to
// key. Empty fields are treated as matching; feeds often omit them.
func Matches(key model.SubscriptionKey, symbol, timeframe string) bool {
	if symbol != "" && !strings.EqualFold(symbol, key.Instrument) {
		return false
	}
	if timeframe != "" && !strings.EqualFold(timeframe, key.Timeframe.String()) {
		return false
	}
	return true
}
