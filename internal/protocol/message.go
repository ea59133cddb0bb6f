// Package protocol defines the WebSocket message types of the status stream
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client messages
	TypePhase MessageType = "phase" // Controller phase change
	TypeJaw   MessageType = "jaw"   // Latest jaw loudness / target
	TypeStats MessageType = "stats" // Tracker statistics
	TypeError MessageType = "error" // Rejected command

	// Client → server messages
	TypeGetStats MessageType = "get_stats"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

// PhaseData announces a controller phase change
type PhaseData struct {
	Phase         string    `json:"phase"`
	Trigger       string    `json:"trigger"`
	Since         time.Time `json:"since"`
	VocalCycles   int64     `json:"vocal_cycles"`
	AmbientCycles int64     `json:"ambient_cycles"`
}

// NewPhaseMessage creates a phase message
func NewPhaseMessage(data PhaseData) (*Message, error) {
	return NewMessage(TypePhase, data)
}

// JawData carries the latest jaw frame
type JawData struct {
	Loudness int     `json:"loudness"`
	Target   float64 `json:"target"`
	Applied  bool    `json:"applied"`
}

// NewJawMessage creates a jaw message
func NewJawMessage(loudness int, target float64, applied bool) (*Message, error) {
	return NewMessage(TypeJaw, JawData{
		Loudness: loudness,
		Target:   target,
		Applied:  applied,
	})
}

// ErrorData explains a rejected command
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(format string, args ...interface{}) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: fmt.Sprintf(format, args...)})
}

// GetPhase extracts phase data from a message
func (m *Message) GetPhase() (*PhaseData, error) {
	if m.Type != TypePhase {
		return nil, fmt.Errorf("expected %s message, got %s", TypePhase, m.Type)
	}
	var data PhaseData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetJaw extracts jaw data from a message
func (m *Message) GetJaw() (*JawData, error) {
	if m.Type != TypeJaw {
		return nil, fmt.Errorf("expected %s message, got %s", TypeJaw, m.Type)
	}
	var data JawData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
