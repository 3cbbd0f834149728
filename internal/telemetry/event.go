// Package telemetry fans station events out to external sinks.
package telemetry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultRootTopic is the topic prefix used by the station since the
// first MQTT integration.
const DefaultRootTopic = "Transport_out"

// Kind classifies an event.
type Kind string

const (
	KindActuation Kind = "actuation"
	KindSensor    Kind = "sensor"
	KindSpeed     Kind = "speed"
	KindLink      Kind = "link"
	KindMachine   Kind = "machine"
	KindRegister  Kind = "register"
)

// Event is a single observation or command result of the station.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Kind      Kind        `json:"kind"`
	Topic     string      `json:"topic"`
	Device    string      `json:"device,omitempty"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps a new event with id and time.
func NewEvent(kind Kind, topic, device string, value interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Topic:     topic,
		Device:    device,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// Topics builds topic names below a root.
type Topics struct {
	Root string
}

func NewTopics(root string) Topics {
	if root == "" {
		root = DefaultRootTopic
	}
	return Topics{Root: root}
}

// Device returns <root>/<kind>/<id>/<leaf>.
func (t Topics) Device(kind, id, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Root, kind, id, leaf)
}

func (t Topics) ConveyorDirection(id string) string { return t.Device("conveyor", id, "direction") }
func (t Topics) ConveyorSpeed(id string) string     { return t.Device("conveyor", id, "speed") }
func (t Topics) SwitchPosition(id string) string    { return t.Device("switch", id, "position") }
func (t Topics) SeparatorSet(id string) string      { return t.Device("separator", id, "set") }

// Machine is the topic for machine state changes.
func (t Topics) Machine() string {
	return t.Root + "/machine/state"
}

// InputRegister and OutputRegister carry raw register words.
func (t Topics) InputRegister() string  { return t.Root + "/Input_register" }
func (t Topics) OutputRegister() string { return t.Root + "/Output_register" }

// Link is the topic for PLC link health.
func (t Topics) Link() string {
	return t.Root + "/link"
}
