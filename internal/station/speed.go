package station

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// Analog output modules. Every module drives eight conveyors through a
// select register and four value registers, four conveyors at a time.
const (
	MaxSpeed = 30000 // 10 V

	codeInit     uint16 = 0x6000
	codeGroupA   uint16 = 0x3000
	codeLatchA   uint16 = 0x0100
	codeGroupB   uint16 = 0x0B00
	codeLatchAll uint16 = 0x0900
)

type analogBank struct {
	selectAddr uint16
	valueAddr  uint16 // first of four
	groupA     [4]DeviceID
	groupB     [4]DeviceID
}

var analogBanks = []analogBank{
	{
		selectAddr: 8024,
		valueAddr:  8025,
		groupA:     [4]DeviceID{"A", "B", "D", "E"},
		groupB:     [4]DeviceID{"G", "H", "I", "K"},
	},
	{
		selectAddr: 8029,
		valueAddr:  8030,
		groupA:     [4]DeviceID{"L", "N", "O", "P"},
		groupB:     [4]DeviceID{"T", "U", "V", "W"},
	},
}

// SetSpeed stores the analog speed of one conveyor (0..MaxSpeed) and
// reprograms all analog outputs. Direction bits are not touched.
func (s *Station) SetSpeed(ctx context.Context, id DeviceID, speed int) error {
	if _, err := lookupKind(id, KindConveyor); err != nil {
		return err
	}
	if err := validateSpeed(speed); err != nil {
		return err
	}

	err := s.Exclusive(ctx, func(r *Registers) error {
		s.stateMu.Lock()
		s.speeds[id] = speed
		s.stateMu.Unlock()
		return s.reprogram(ctx)
	})
	if err != nil {
		return fmt.Errorf("set speed of %s to %d: %w", id, speed, err)
	}

	s.emit(telemetry.KindSpeed, s.topics.ConveyorSpeed(string(id)), id, speed)
	return nil
}

// SetSpeedAll sets every conveyor to speed with a single reprogramming.
func (s *Station) SetSpeedAll(ctx context.Context, speed int) error {
	if err := validateSpeed(speed); err != nil {
		return err
	}

	ids := ConveyorIDs()
	err := s.Exclusive(ctx, func(r *Registers) error {
		s.stateMu.Lock()
		for _, id := range ids {
			s.speeds[id] = speed
		}
		s.stateMu.Unlock()
		return s.reprogram(ctx)
	})
	if err != nil {
		return fmt.Errorf("set speed of all conveyors to %d: %w", speed, err)
	}

	for _, id := range ids {
		s.emit(telemetry.KindSpeed, s.topics.ConveyorSpeed(string(id)), id, speed)
	}
	return nil
}

// Speed returns the stored speed of a conveyor. After a failed
// reprogramming this is the requested value, not necessarily the one on
// the outputs.
func (s *Station) Speed(id DeviceID) (int, error) {
	if _, err := lookupKind(id, KindConveyor); err != nil {
		return 0, err
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.speeds[id], nil
}

// Speeds returns a copy of the speed table.
func (s *Station) Speeds() map[DeviceID]int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make(map[DeviceID]int, len(s.speeds))
	for id, v := range s.speeds {
		out[id] = v
	}
	return out
}

// SortedSpeedIDs returns the keys of a speed table in channel order.
func SortedSpeedIDs(speeds map[DeviceID]int) []DeviceID {
	order := make(map[DeviceID]int)
	for i, ch := range channels {
		order[ch.ID] = i
	}
	ids := make([]DeviceID, 0, len(speeds))
	for id := range speeds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return order[ids[i]] < order[ids[j]] })
	return ids
}

func validateSpeed(speed int) error {
	if speed < 0 || speed > MaxSpeed {
		return fmt.Errorf("%w: %d (0..%d)", ErrInvalidSpeed, speed, MaxSpeed)
	}
	return nil
}

// reprogram writes the whole speed table to the analog modules. Must be
// called with ctrlMu held.
func (s *Station) reprogram(ctx context.Context) error {
	writes := speedWrites(s.Speeds())

	if err := s.guard.writeBatch(ctx, writes); err != nil {
		return err
	}
	s.logger.Debug("Analog outputs reprogrammed", zap.Int("writes", len(writes)))
	return nil
}

// speedWrites builds the select/value sequence for all analog banks.
func speedWrites(speeds map[DeviceID]int) []registerWrite {
	var writes []registerWrite
	for _, bank := range analogBanks {
		sel := func(code uint16) {
			writes = append(writes, registerWrite{Addr: bank.selectAddr, Value: code})
		}
		values := func(group [4]DeviceID) {
			for i, id := range group {
				writes = append(writes, registerWrite{Addr: bank.valueAddr + uint16(i), Value: uint16(speeds[id])})
			}
		}

		sel(codeInit)
		sel(codeGroupA)
		values(bank.groupA)
		sel(codeLatchA)
		sel(codeGroupB)
		values(bank.groupB)
		sel(codeLatchAll)
	}
	return writes
}
