// Package signaling implements the Babelcast WebSocket signaling channel:
// a {Key, Value} JSON envelope relayed to and from the signaling server.
package signaling

import (
	"encoding/json"
	"fmt"
)

// Key identifies the kind of signaling message.
type Key string

const (
	KeyConnectPublisher   Key = "connect_publisher"
	KeyConnectSubscriber  Key = "connect_subscriber"
	KeySessionPublisher   Key = "session_publisher"
	KeySessionSubscriber  Key = "session_subscriber"
	KeySDAnswer           Key = "sd_answer"
	KeyICECandidate       Key = "ice_candidate"
	KeyInfo               Key = "info"
	KeyError              Key = "error"
	KeyPasswordRequired   Key = "password_required"
	KeyGetChannels        Key = "get_channels"
	KeyChannels           Key = "channels"
	KeySessionEstablished Key = "session_established"
)

// Message is the JSON envelope exchanged over the WebSocket. Value is kept
// raw; each handler decodes the shape it expects.
type Message struct {
	Key   Key             `json:"Key"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ChannelParams is the payload of connect_publisher and connect_subscriber.
type ChannelParams struct {
	Channel  string `json:"Channel"`
	Password string `json:"Password,omitempty"`
}

// NewMessage marshals value into an envelope. A nil value produces a message
// without a Value field.
func NewMessage(key Key, value any) (Message, error) {
	msg := Message{Key: key}
	if value == nil {
		return msg, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s value: %w", key, err)
	}
	msg.Value = data
	return msg, nil
}

// Decode unmarshals the message value into v.
func (m Message) Decode(v any) error {
	if len(m.Value) == 0 {
		return fmt.Errorf("%s message has no value", m.Key)
	}
	if err := json.Unmarshal(m.Value, v); err != nil {
		return fmt.Errorf("failed to decode %s value: %w", m.Key, err)
	}
	return nil
}

// Text returns the value as display text: the string itself for JSON
// strings, the raw JSON otherwise.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		return s
	}
	return string(m.Value)
}

// Sender is the write half of a signaling channel.
type Sender interface {
	Send(key Key, value any) error
}
