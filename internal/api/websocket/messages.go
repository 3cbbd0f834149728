package websocket

import (
	"time"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Station messages
	MessageTypeActuation MessageType = "actuation"
	MessageTypeSensor    MessageType = "sensor"
	MessageTypeSpeed     MessageType = "speed"
	MessageTypeLink      MessageType = "link"

	// Machine state messages
	MessageTypeMachineState MessageType = "machine_state"

	// Session messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic,omitempty"`
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

var eventTypes = map[telemetry.Kind]MessageType{
	telemetry.KindActuation: MessageTypeActuation,
	telemetry.KindSensor:    MessageTypeSensor,
	telemetry.KindSpeed:     MessageTypeSpeed,
	telemetry.KindLink:      MessageTypeLink,
	telemetry.KindMachine:   MessageTypeMachineState,
}

// NewEventMessage wraps a station event.
func NewEventMessage(event telemetry.Event) Message {
	msgType, ok := eventTypes[event.Kind]
	if !ok {
		msgType = MessageType(event.Kind)
	}
	return Message{
		Type:      msgType,
		Topic:     event.Topic,
		Timestamp: event.Timestamp,
		Data:      event,
	}
}
