// Package jsonrpc holds the JSON-RPC 2.0 envelopes exchanged over relay
// topics and with the relay itself.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const Version = "2.0"

var ErrInvalidMessage = errors.New("jsonrpc: invalid message")

// Message is the union of request and response shapes. Exactly one of
// Method or (Result|Error) is populated on a valid message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error code=%d: %s", e.Code, e.Message)
}

func (m Message) IsRequest() bool {
	return m.Method != ""
}

func (m Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

func (m Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("%w: version %q", ErrInvalidMessage, m.JSONRPC)
	}
	if m.ID == 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if !m.IsRequest() && !m.IsResponse() {
		return fmt.Errorf("%w: neither request nor response", ErrInvalidMessage)
	}
	return nil
}

// NewRequest marshals params into a request envelope.
func NewRequest(id uint64, method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewResult marshals result into a response envelope for id.
func NewResult(id uint64, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

func NewError(id uint64, code int, message string) Message {
	return Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// IDs hands out monotonically increasing, time-seeded message ids.
type IDs struct {
	next atomic.Uint64
}

func NewIDs() *IDs {
	ids := &IDs{}
	ids.next.Store(uint64(time.Now().UnixMilli()) * 1000)
	return ids
}

func (g *IDs) Next() uint64 {
	return g.next.Add(1)
}
