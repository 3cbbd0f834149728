package station

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// ConveyorState is the last commanded direction of a conveyor.
type ConveyorState int

const (
	ConveyorStopped ConveyorState = iota
	ConveyorForward
	ConveyorBackward
)

func (s ConveyorState) String() string {
	switch s {
	case ConveyorStopped:
		return "stopped"
	case ConveyorForward:
		return "forward"
	case ConveyorBackward:
		return "backward"
	default:
		return "unknown"
	}
}

// Forward sets the forward bit and clears the backward bit of a conveyor.
// The analog speed is not touched.
func (s *Station) Forward(ctx context.Context, id DeviceID) error {
	return s.drive(ctx, id, ConveyorForward)
}

// Backward sets the backward bit and clears the forward bit.
func (s *Station) Backward(ctx context.Context, id DeviceID) error {
	return s.drive(ctx, id, ConveyorBackward)
}

// Stop clears both direction bits.
func (s *Station) Stop(ctx context.Context, id DeviceID) error {
	return s.drive(ctx, id, ConveyorStopped)
}

func (s *Station) drive(ctx context.Context, id DeviceID, state ConveyorState) error {
	ch, err := lookupKind(id, KindConveyor)
	if err != nil {
		return err
	}

	// Both direction bits of a conveyor live in the same word
	fwd, err := addressOfRole(ch, RoleForward)
	if err != nil {
		return err
	}
	bwd, err := addressOfRole(ch, RoleBackward)
	if err != nil {
		return err
	}

	err = s.Exclusive(ctx, func(r *Registers) error {
		err := r.updateOutputWord(ctx, fwd.Offset, func(word uint16) uint16 {
			word = clearBit(word, fwd.Bit)
			word = clearBit(word, bwd.Bit)
			switch state {
			case ConveyorForward:
				word = setBit(word, fwd.Bit)
			case ConveyorBackward:
				word = setBit(word, bwd.Bit)
			}
			return word
		})
		if err != nil {
			return err
		}
		s.setConveyorState(id, state)
		return nil
	})
	if err != nil {
		return fmt.Errorf("conveyor %s %s: %w", id, state, err)
	}

	s.logger.Debug("Conveyor driven", zap.String("conveyor", string(id)), zap.Stringer("state", state))
	s.emit(telemetry.KindActuation, s.topics.ConveyorDirection(string(id)), id, state.String())
	return nil
}

// StopAll clears the direction bits of every conveyor with a single
// read-modify-write per output word.
func (s *Station) StopAll(ctx context.Context) error {
	masks := make(map[int]uint16)
	for _, id := range ConveyorIDs() {
		ch, _ := Lookup(id)
		for _, bit := range ch.Bits() {
			addr, err := AddressOf(bit)
			if err != nil {
				return err
			}
			masks[addr.Offset] |= 1 << uint(addr.Bit)
		}
	}

	offsets := make([]int, 0, len(masks))
	for offset := range masks {
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)

	err := s.Exclusive(ctx, func(r *Registers) error {
		for _, offset := range offsets {
			mask := masks[offset]
			if err := r.updateOutputWord(ctx, offset, func(word uint16) uint16 {
				return word &^ mask
			}); err != nil {
				return err
			}
		}
		for _, id := range ConveyorIDs() {
			s.setConveyorState(id, ConveyorStopped)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stop all conveyors: %w", err)
	}

	s.logger.Info("All conveyors stopped")
	for _, id := range ConveyorIDs() {
		s.emit(telemetry.KindActuation, s.topics.ConveyorDirection(string(id)), id, ConveyorStopped.String())
	}
	return nil
}

// ConveyorState returns the last commanded direction of a conveyor.
func (s *Station) ConveyorState(id DeviceID) (ConveyorState, error) {
	if _, err := lookupKind(id, KindConveyor); err != nil {
		return ConveyorStopped, err
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.states[id], nil
}

func (s *Station) setConveyorState(id DeviceID, state ConveyorState) {
	s.stateMu.Lock()
	s.states[id] = state
	s.stateMu.Unlock()
}
