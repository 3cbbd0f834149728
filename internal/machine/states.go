package machine

import "time"

type State string

const (
	StateStopped   State = "stopped"
	StateHoming    State = "homing"
	StateReady     State = "ready"
	StateStopping  State = "stopping"
	StateError     State = "error"
	StateEmergency State = "emergency"
)

type Command string

const (
	CommandHome      Command = "home"
	CommandStop      Command = "stop"
	CommandEmergency Command = "emergency"
	CommandReset     Command = "reset"
)

type MachineStatus struct {
	State           State     `json:"state"`
	PreviousState   State     `json:"previous_state,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}
