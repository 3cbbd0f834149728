package station

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// SwitchPosition selects a track switch position. PositionReference
// triggers the homing run.
type SwitchPosition int

const (
	PositionUnknown   SwitchPosition = -1
	PositionReference SwitchPosition = 0
	Position1         SwitchPosition = 1
	Position2         SwitchPosition = 2
	Position3         SwitchPosition = 3
)

func (p SwitchPosition) Valid() bool {
	return p >= PositionReference && p <= Position3
}

func (p SwitchPosition) String() string {
	switch {
	case p == PositionReference:
		return "reference"
	case p.Valid():
		return strconv.Itoa(int(p))
	default:
		return "unknown"
	}
}

// SetSwitch moves a switch to pos. All four position bits are cleared
// first, one word at a time, then the bit of pos is set, so the PLC never
// sees two positions requested at once.
func (s *Station) SetSwitch(ctx context.Context, id DeviceID, pos SwitchPosition) error {
	ch, err := lookupKind(id, KindSwitch)
	if err != nil {
		return err
	}
	if !pos.Valid() {
		return fmt.Errorf("%w: %d (switch %s)", ErrInvalidPosition, pos, id)
	}

	// The four bits of a switch can span two words (M: 30..33)
	var addrs [4]Address
	for role := range addrs {
		addrs[role], err = addressOfRole(ch, Role(role))
		if err != nil {
			return err
		}
	}

	err = s.Exclusive(ctx, func(r *Registers) error {
		for _, a := range addrs {
			if err := r.updateOutputWord(ctx, a.Offset, func(word uint16) uint16 {
				return clearBit(word, a.Bit)
			}); err != nil {
				return err
			}
		}

		target := addrs[pos]
		if err := r.updateOutputWord(ctx, target.Offset, func(word uint16) uint16 {
			return setBit(word, target.Bit)
		}); err != nil {
			return err
		}

		s.stateMu.Lock()
		s.positions[id] = pos
		s.stateMu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("switch %s to %s: %w", id, pos, err)
	}

	s.logger.Debug("Switch set", zap.String("switch", string(id)), zap.Stringer("position", pos))
	s.emit(telemetry.KindActuation, s.topics.SwitchPosition(string(id)), id, int(pos))
	return nil
}

// SwitchSetting returns the last commanded position of a switch, or
// PositionUnknown if it was never set.
func (s *Station) SwitchSetting(id DeviceID) (SwitchPosition, error) {
	if _, err := lookupKind(id, KindSwitch); err != nil {
		return PositionUnknown, err
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.positions[id], nil
}
