package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Run lifecycle messages, the payload is the engine's run event
	MessageTypeRunEvent MessageType = "run_event"

	// One sampled run log row, the payload mirrors the CSV columns
	MessageTypeLogRow MessageType = "log_row"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
