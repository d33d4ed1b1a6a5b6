package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/marketsync/internal/model"
)

var (
	// ErrUnknownType is returned for frames whose "type" is not recognized.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMalformed is returned for frames that are not valid JSON objects or
	// lack a field the message kind cannot do without.
	ErrMalformed = errors.New("malformed message")
)

// Decode classifies and parses one inbound frame.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch Kind(env.Type) {
	case KindCandle:
		return decodeCandle(data)
	case KindTick:
		return decodeTick(data)
	case KindSubscribed:
		var w subscribedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: subscribed: %v", ErrMalformed, err)
		}
		return SubscribedMsg{Symbols: w.Symbols, Timeframes: w.Timeframes}, nil
	case KindUnsubscribed:
		var w subscribedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: unsubscribed: %v", ErrMalformed, err)
		}
		return UnsubscribedMsg{Symbols: w.Symbols}, nil
	case KindError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrMalformed, err)
		}
		msg := w.Message
		if msg == "" {
			msg = w.Msg
		}
		return ErrorMsg{Message: msg}, nil
	case KindHeartbeat:
		var w heartbeatWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: heartbeat: %v", ErrMalformed, err)
		}
		return HeartbeatMsg{Timestamp: w.Timestamp.Time}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeCandle(data []byte) (Message, error) {
	var w candleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: candle: %v", ErrMalformed, err)
	}
	if w.Start.IsZero() {
		return nil, fmt.Errorf("%w: candle without start", ErrMalformed)
	}
	return CandleMsg{
		Symbol:    w.Symbol,
		Timeframe: w.Timeframe,
		Candle: model.Candle{
			OpenTime: w.Start.Time,
			Open:     w.Open.Value,
			High:     w.High.Value,
			Low:      w.Low.Value,
			Close:    w.Close.Value,
			Volume:   w.Volume.Value,
		},
	}, nil
}

func decodeTick(data []byte) (Message, error) {
	var w tickWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: tick: %v", ErrMalformed, err)
	}
	if !w.Price.Valid {
		return nil, fmt.Errorf("%w: tick without price", ErrMalformed)
	}
	return TickMsg{
		Symbol: w.Symbol,
		Tick: model.Tick{
			Price:     w.Price.Value,
			Volume:    w.Volume.Ptr(),
			Timestamp: w.Timestamp.Time,
		},
	}, nil
}
