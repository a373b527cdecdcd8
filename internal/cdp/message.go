package cdp

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// Request is an outbound CDP command.
type Request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// Message is a decoded inbound CDP message. A message with a method and no
// ID is an event; one with an ID is a command response. Messages carrying
// neither are logged and dropped by the transport, never queued as responses.
type Message struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// IsEvent reports whether the message is an unsolicited event.
func (m *Message) IsEvent() bool {
	return m.ID == nil && m.Method != ""
}

// MessageID returns the response ID, or 0 if the message has none.
func (m *Message) MessageID() int64 {
	if m.ID == nil {
		return 0
	}
	return *m.ID
}

// Event is a CDP event notification passed to subscribers.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// decodeMessage parses one text frame into a Message.
func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse CDP message: %w", err)
	}
	if msg.ID == nil && msg.Method == "" {
		return nil, fmt.Errorf("unknown CDP message format: %s", string(data))
	}
	return &msg, nil
}
