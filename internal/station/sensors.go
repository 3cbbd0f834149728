package station

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// Sensor names one input of a device kind.
type Sensor struct {
	Kind Kind
	Role Role
	Name string
}

var sensorsByKind = map[Kind][]Sensor{
	KindConveyor: {
		{KindConveyor, RoleBeginSensor, "workpiece_begin"},
		{KindConveyor, RoleEndSensor, "workpiece_end"},
	},
	KindSwitch: {
		{KindSwitch, RolePositionReached, "position_reached"},
		{KindSwitch, RoleInMovement, "in_movement"},
		{KindSwitch, RoleSwitchWorkpiece, "workpiece"},
		{KindSwitch, RoleReferencePosition, "reference_position"},
	},
	KindSeparator: {
		{KindSeparator, RoleSetConfirmed, "set"},
		{KindSeparator, RoleWorkpieceBehind, "workpiece_behind"},
		{KindSeparator, RoleWorkpieceInFront, "workpiece_in_front"},
	},
}

// SensorsOf returns the inputs of a device kind.
func SensorsOf(kind Kind) []Sensor {
	return append([]Sensor(nil), sensorsByKind[kind]...)
}

// ConveyorWorkpieceBegin reports a workpiece at the start of a conveyor.
func (s *Station) ConveyorWorkpieceBegin(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindConveyor, RoleBeginSensor)
}

// ConveyorWorkpieceEnd reports a workpiece at the end of a conveyor.
func (s *Station) ConveyorWorkpieceEnd(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindConveyor, RoleEndSensor)
}

func (s *Station) SwitchPositionReached(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSwitch, RolePositionReached)
}

func (s *Station) SwitchInMovement(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSwitch, RoleInMovement)
}

func (s *Station) SwitchWorkpiece(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSwitch, RoleSwitchWorkpiece)
}

// SwitchReferencePosition reads the homing bit. It does not tell when a
// reference run has finished.
func (s *Station) SwitchReferencePosition(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSwitch, RoleReferencePosition)
}

// SeparatorSet reads the set confirmation of a separator.
func (s *Station) SeparatorSet(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSeparator, RoleSetConfirmed)
}

func (s *Station) SeparatorWorkpieceBehind(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSeparator, RoleWorkpieceBehind)
}

func (s *Station) SeparatorWorkpieceInFront(ctx context.Context, id DeviceID) (bool, error) {
	return s.readSensor(ctx, id, KindSeparator, RoleWorkpieceInFront)
}

func (s *Station) readSensor(ctx context.Context, id DeviceID, kind Kind, role Role) (bool, error) {
	ch, err := lookupKind(id, kind)
	if err != nil {
		return false, err
	}
	addr, err := addressOfRole(ch, role)
	if err != nil {
		return false, err
	}

	regs, err := s.ReadInputRegisters(ctx, addr.Offset, 1)
	if err != nil {
		return false, fmt.Errorf("read sensor %s/%d: %w", id, role, err)
	}

	value := testBit(regs[0], addr.Bit)
	if value {
		s.emit(telemetry.KindSensor, s.topics.Device(kind.String(), string(id), sensorName(kind, role)), id, true)
	}
	return value, nil
}

func sensorName(kind Kind, role Role) string {
	for _, sensor := range sensorsByKind[kind] {
		if sensor.Role == role {
			return sensor.Name
		}
	}
	return fmt.Sprintf("input_%d", role)
}

// SensorReading is one decoded input.
type SensorReading struct {
	Device DeviceID
	Sensor Sensor
	Value  bool
}

// ReadSensors reads all input words in one request and decodes every
// sensor of every device.
func (s *Station) ReadSensors(ctx context.Context) ([]SensorReading, error) {
	words, err := s.ReadInputRegisters(ctx, 0, WordCount)
	if err != nil {
		return nil, fmt.Errorf("read sensors: %w", err)
	}
	return DecodeSensors(words)
}

// DecodeSensors maps the input words to sensor readings in channel table
// order.
func DecodeSensors(words []uint16) ([]SensorReading, error) {
	if len(words) < WordCount {
		return nil, fmt.Errorf("need %d input words, got %d", WordCount, len(words))
	}

	var readings []SensorReading
	for _, ch := range channels {
		for _, sensor := range sensorsByKind[ch.Kind] {
			addr, err := addressOfRole(ch, sensor.Role)
			if err != nil {
				return nil, err
			}
			readings = append(readings, SensorReading{
				Device: ch.ID,
				Sensor: sensor,
				Value:  testBit(words[addr.Offset], addr.Bit),
			})
		}
	}
	return readings, nil
}
