package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/station"
	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidState   = errors.New("command not allowed in current state")
)

// Station is the part of the station API the controller drives.
type Station interface {
	StopAll(ctx context.Context) error
	SetSpeedAll(ctx context.Context, speed int) error
	SetSwitch(ctx context.Context, id station.DeviceID, pos station.SwitchPosition) error
}

// Controller runs station wide sequences and tracks the machine state.
type Controller struct {
	logger   *zap.Logger
	station  Station
	notifier station.Notifier
	topics   telemetry.Topics

	// cmdMu serializes home, stop and reset. Emergency never waits on it.
	cmdMu sync.Mutex

	// mu protects the state fields and cancelRun
	mu              sync.RWMutex
	currentState    State
	previousState   State
	errorMessage    string
	lastStateChange time.Time
	cancelRun       context.CancelFunc
}

func NewController(logger *zap.Logger, st Station, notifier station.Notifier, topics telemetry.Topics) *Controller {
	return &Controller{
		logger:          logger,
		station:         st,
		notifier:        notifier,
		topics:          topics,
		currentState:    StateStopped,
		lastStateChange: time.Now(),
	}
}

// ExecuteCommand handles machine commands
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.logger.Info("Machine command received",
		zap.String("command", string(cmd)),
		zap.String("current_state", string(c.state())))

	if cmd == CommandEmergency {
		return c.executeEmergency(ctx)
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	switch cmd {
	case CommandHome:
		return c.executeHome(ctx)
	case CommandStop:
		return c.executeStop(ctx)
	case CommandReset:
		return c.executeReset()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

// executeHome stops everything and sends all switches on a reference run.
func (c *Controller) executeHome(ctx context.Context) error {
	ctx, done, err := c.begin(ctx, StateHoming, func(s State) error {
		if s != StateStopped && s != StateReady {
			return fmt.Errorf("%w: cannot home while %s", ErrInvalidState, s)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer done()

	if err := c.stopConveyors(ctx); err != nil {
		return c.fail(StateHoming, err)
	}
	for _, id := range station.SwitchIDs() {
		if err := c.station.SetSwitch(ctx, id, station.PositionReference); err != nil {
			return c.fail(StateHoming, err)
		}
	}

	c.transition(StateHoming, StateReady, "")
	return nil
}

func (c *Controller) executeStop(ctx context.Context) error {
	ctx, done, err := c.begin(ctx, StateStopping, func(s State) error {
		if s == StateEmergency {
			return fmt.Errorf("%w: reset the emergency stop first", ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer done()

	if err := c.stopConveyors(ctx); err != nil {
		return c.fail(StateStopping, err)
	}

	c.transition(StateStopping, StateStopped, "")
	return nil
}

// executeEmergency is allowed in every state. It enters emergency, aborts a
// running home or stop sequence and then drives all outputs to rest.
func (c *Controller) executeEmergency(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancelRun
	c.cancelRun = nil
	previous := c.swapLocked(StateEmergency, "emergency stop")
	c.mu.Unlock()

	c.stateChanged(StateEmergency, previous, "emergency stop")
	if cancel != nil {
		cancel()
	}

	if err := c.stopConveyors(ctx); err != nil {
		c.logger.Error("Emergency stop could not reach the station", zap.Error(err))
		return err
	}
	return nil
}

func (c *Controller) executeReset() error {
	s := c.state()
	if s != StateError && s != StateEmergency {
		return fmt.Errorf("%w: no error state (current: %s)", ErrInvalidState, s)
	}

	c.transition(s, StateStopped, "")
	c.logger.Info("Machine reset to stopped state")
	return nil
}

// begin checks and enters the sequence state in one step and returns a
// context that an emergency stop cancels.
func (c *Controller) begin(ctx context.Context, state State, allowed func(State) error) (context.Context, func(), error) {
	c.mu.Lock()
	if err := allowed(c.currentState); err != nil {
		c.mu.Unlock()
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	previous := c.swapLocked(state, "")
	c.mu.Unlock()
	c.stateChanged(state, previous, "")

	done := func() {
		c.mu.Lock()
		c.cancelRun = nil
		c.mu.Unlock()
		cancel()
	}
	return runCtx, done, nil
}

func (c *Controller) stopConveyors(ctx context.Context) error {
	if err := c.station.StopAll(ctx); err != nil {
		return err
	}
	return c.station.SetSpeedAll(ctx, 0)
}

// fail moves a sequence into error. A sequence aborted by an emergency stop
// leaves the emergency state alone.
func (c *Controller) fail(from State, err error) error {
	if !c.transition(from, StateError, err.Error()) {
		c.logger.Warn("Machine sequence aborted", zap.String("state", string(c.state())), zap.Error(err))
		return err
	}
	c.logger.Error("Machine sequence failed", zap.Error(err))
	return err
}

func (c *Controller) state() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentState
}

// transition changes the state only if it is still from.
func (c *Controller) transition(from, to State, errorMsg string) bool {
	c.mu.Lock()
	if c.currentState != from {
		c.mu.Unlock()
		return false
	}
	previous := c.swapLocked(to, errorMsg)
	c.mu.Unlock()
	c.stateChanged(to, previous, errorMsg)
	return true
}

func (c *Controller) swapLocked(state State, errorMsg string) State {
	previous := c.currentState
	c.previousState = previous
	c.currentState = state
	c.errorMessage = errorMsg
	c.lastStateChange = time.Now()
	return previous
}

func (c *Controller) stateChanged(state, previous State, errorMsg string) {
	c.logger.Info("Machine state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)),
		zap.String("error", errorMsg))

	if c.notifier != nil {
		c.notifier.Notify(telemetry.NewEvent(telemetry.KindMachine, c.topics.Machine(), "", map[string]string{
			"state":    string(state),
			"previous": string(previous),
		}))
	}
}

func (c *Controller) GetStatus() MachineStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return MachineStatus{
		State:           c.currentState,
		PreviousState:   c.previousState,
		ErrorMessage:    c.errorMessage,
		LastStateChange: c.lastStateChange,
	}
}
