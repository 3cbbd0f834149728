// Package station drives the conveyors, switches and separators of the
// transport station through the holding registers of its PLC.
package station

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// Config parametrizes a Station. A zero Retry means unlimited retries,
// use DefaultRetryPolicy for bounded ones. RegisterEvents publishes the raw
// words of every register read and write below the root topic.
type Config struct {
	Retry          RetryPolicy
	RootTopic      string
	RegisterEvents bool
}

// Station is the actuator and sensor API of the transport station. All
// methods are safe for concurrent use.
type Station struct {
	// ctrlMu serializes complete control operations. Always taken before
	// guard.mu.
	ctrlMu sync.Mutex
	guard  *guard

	logger   *zap.Logger
	notifier Notifier
	topics   telemetry.Topics

	// stateMu protects the snapshots below for readers. Writers hold
	// ctrlMu as well.
	stateMu   sync.RWMutex
	speeds    map[DeviceID]int
	states    map[DeviceID]ConveyorState
	positions map[DeviceID]SwitchPosition
}

// New creates a Station on top of transport. notifier may be nil.
func New(transport Transport, cfg Config, logger *zap.Logger, notifier Notifier) *Station {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	s := &Station{
		guard:     newGuard(transport, cfg.Retry, logger),
		logger:    logger,
		notifier:  notifier,
		topics:    telemetry.NewTopics(cfg.RootTopic),
		speeds:    make(map[DeviceID]int),
		states:    make(map[DeviceID]ConveyorState),
		positions: make(map[DeviceID]SwitchPosition),
	}
	for _, id := range ConveyorIDs() {
		s.speeds[id] = 0
		s.states[id] = ConveyorStopped
	}
	for _, id := range SwitchIDs() {
		s.positions[id] = PositionUnknown
	}
	if cfg.RegisterEvents {
		s.guard.observe = s.registerTransfer
	}
	return s
}

// Exclusive runs fn while holding the control lock. The Registers handle
// passed to fn is the only way to write output registers and must not be
// used after fn returns.
func (s *Station) Exclusive(ctx context.Context, fn func(*Registers) error) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&Registers{g: s.guard})
}

// ReadInputRegisters reads count sensor words. Only the I/O lock is taken.
func (s *Station) ReadInputRegisters(ctx context.Context, offset, count int) ([]uint16, error) {
	return s.guard.readRegisters(ctx, InputBase, offset, count)
}

// ReadOutputRegisters reads count actuator words without taking the
// control lock. The result may be stale once a control operation runs.
func (s *Station) ReadOutputRegisters(ctx context.Context, offset, count int) ([]uint16, error) {
	return s.guard.readRegisters(ctx, OutputBase, offset, count)
}

// Topics returns the topic builder used for events.
func (s *Station) Topics() telemetry.Topics {
	return s.topics
}

// RegisterWords is the payload of a register event.
type RegisterWords struct {
	Address uint16   `json:"address"`
	Words   []uint16 `json:"words"`
}

func (s *Station) registerTransfer(base uint16, offset int, words []uint16) {
	topic := s.topics.OutputRegister()
	if base == InputBase {
		topic = s.topics.InputRegister()
	}
	s.emit(telemetry.KindRegister, topic, "", RegisterWords{
		Address: base + uint16(offset),
		Words:   append([]uint16(nil), words...),
	})
}

func (s *Station) emit(kind telemetry.Kind, topic string, id DeviceID, value interface{}) {
	s.notifier.Notify(telemetry.NewEvent(kind, topic, string(id), value))
}
