package station

import (
	"context"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// Transport is the register-level link to the station PLC. It is
// implemented by *modbus.Client.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	ReadHoldingRegisters(ctx context.Context, addr, quantity uint16) ([]uint16, error)
	WriteSingleRegister(ctx context.Context, addr, value uint16) error
	WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error
	SetAutoOpen(enabled bool)
	SetAutoClose(enabled bool)
}

// Notifier receives events after successful operations. Notify must not
// block.
type Notifier interface {
	Notify(event telemetry.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(telemetry.Event) {}
