package station

import "fmt"

// DeviceID is the symbolic code printed on the station, e.g. "A" for a
// conveyor, "C" for a switch or "V1" for a separator.
type DeviceID string

// Kind is the closed set of device kinds on the station.
type Kind int

const (
	KindConveyor Kind = iota
	KindSwitch
	KindSeparator
)

func (k Kind) String() string {
	switch k {
	case KindConveyor:
		return "conveyor"
	case KindSwitch:
		return "switch"
	case KindSeparator:
		return "separator"
	default:
		return "unknown"
	}
}

// Roles returns how many functional roles a device of this kind exposes.
func (k Kind) Roles() int {
	if k == KindConveyor {
		return 2
	}
	return 4
}

// Role indexes the bit list of a channel. The same index names an output
// on the actuator side and an input on the sensor side.
type Role int

// Conveyor roles
const (
	RoleForward  Role = 0
	RoleBackward Role = 1

	RoleBeginSensor = RoleForward
	RoleEndSensor   = RoleBackward
)

// Switch roles. Outputs select a position (0 = reference run), inputs
// report position reached, in movement, workpiece and reference position.
const (
	RoleReference Role = 0
	RolePosition1 Role = 1
	RolePosition2 Role = 2
	RolePosition3 Role = 3

	RolePositionReached   = RoleReference
	RoleInMovement        = RolePosition1
	RoleSwitchWorkpiece   = RolePosition2
	RoleReferencePosition = RolePosition3
)

// Separator roles
const (
	RoleSet              Role = 0
	RoleSetConfirmed     Role = 1
	RoleWorkpieceBehind  Role = 2
	RoleWorkpieceInFront Role = 3
)

// Channel ties a device to its global bit indices.
type Channel struct {
	ID   DeviceID
	Kind Kind
	bits [4]int
}

// Roles returns the number of valid role indices.
func (c Channel) Roles() int { return c.Kind.Roles() }

// Bit returns the global bit index for role.
func (c Channel) Bit(role Role) (int, error) {
	if role < 0 || int(role) >= c.Roles() {
		return 0, fmt.Errorf("%w: %s %s has no role %d", ErrUnknownRole, c.Kind, c.ID, role)
	}
	return c.bits[role], nil
}

// Bits returns the bit indices of all roles in role order.
func (c Channel) Bits() []int {
	out := make([]int, c.Roles())
	copy(out, c.bits[:])
	return out
}

func conveyor(id DeviceID, forward, backward int) Channel {
	return Channel{ID: id, Kind: KindConveyor, bits: [4]int{forward, backward}}
}

func track(id DeviceID, first int) Channel {
	return Channel{ID: id, Kind: KindSwitch, bits: [4]int{first, first + 1, first + 2, first + 3}}
}

func separator(id DeviceID, set, confirmed, behind, inFront int) Channel {
	return Channel{ID: id, Kind: KindSeparator, bits: [4]int{set, confirmed, behind, inFront}}
}

// Register table from chapter 2.1.3 of the station hardware documentation.
// Separator indices overlap on purpose: V1 and V2 share 65, V1 and V3 share
// 66, and V1 uses 64 for both set and set confirmation. Do not "fix" this,
// it is how the station is wired.
var channels = []Channel{
	conveyor("A", 0, 1),
	conveyor("B", 2, 3),
	conveyor("D", 8, 9),
	conveyor("E", 10, 11),
	conveyor("G", 16, 17),
	conveyor("H", 18, 19),
	conveyor("I", 20, 21),
	conveyor("K", 26, 27),
	conveyor("L", 28, 29),
	conveyor("N", 34, 35),
	conveyor("O", 36, 37),
	conveyor("P", 38, 39),
	conveyor("T", 52, 53),
	conveyor("U", 54, 55),
	conveyor("V", 56, 57),
	conveyor("W", 58, 59),

	track("C", 4),
	track("F", 12),
	track("J", 22),
	track("M", 30),
	track("Q", 40),
	track("R", 44),
	track("S", 48),
	track("X", 60),

	separator("V1", 64, 64, 65, 66),
	separator("V2", 65, 67, 68, 69),
	separator("V3", 66, 70, 71, 72),
}

var channelIndex = func() map[DeviceID]Channel {
	idx := make(map[DeviceID]Channel, len(channels))
	for _, ch := range channels {
		idx[ch.ID] = ch
	}
	return idx
}()

// Lookup returns the channel for id.
func Lookup(id DeviceID) (Channel, error) {
	ch, ok := channelIndex[id]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	return ch, nil
}

// Resolve maps a device and role to its global bit index.
func Resolve(id DeviceID, role Role) (int, error) {
	ch, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	return ch.Bit(role)
}

// Channels returns the whole table in documentation order.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

func idsOfKind(kind Kind) []DeviceID {
	var ids []DeviceID
	for _, ch := range channels {
		if ch.Kind == kind {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

func ConveyorIDs() []DeviceID  { return idsOfKind(KindConveyor) }
func SwitchIDs() []DeviceID    { return idsOfKind(KindSwitch) }
func SeparatorIDs() []DeviceID { return idsOfKind(KindSeparator) }

// lookupKind resolves id and checks that it is of the expected kind.
func lookupKind(id DeviceID, kind Kind) (Channel, error) {
	ch, err := Lookup(id)
	if err != nil {
		return Channel{}, err
	}
	if ch.Kind != kind {
		return Channel{}, fmt.Errorf("%w: %s is a %s, not a %s", ErrWrongKind, id, ch.Kind, kind)
	}
	return ch, nil
}
