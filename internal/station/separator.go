package station

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

// SetSeparator raises the separator.
func (s *Station) SetSeparator(ctx context.Context, id DeviceID) error {
	return s.separator(ctx, id, true)
}

// ResetSeparator lowers the separator.
func (s *Station) ResetSeparator(ctx context.Context, id DeviceID) error {
	return s.separator(ctx, id, false)
}

func (s *Station) separator(ctx context.Context, id DeviceID, set bool) error {
	ch, err := lookupKind(id, KindSeparator)
	if err != nil {
		return err
	}
	bit, err := ch.Bit(RoleSet)
	if err != nil {
		return err
	}
	// All separator outputs are in bits 64..79
	b := BitInWord(bit)

	err = s.Exclusive(ctx, func(r *Registers) error {
		return r.updateOutputWord(ctx, separatorOffset, func(word uint16) uint16 {
			if set {
				return setBit(word, b)
			}
			return clearBit(word, b)
		})
	})
	if err != nil {
		verb := "reset"
		if set {
			verb = "set"
		}
		return fmt.Errorf("%s separator %s: %w", verb, id, err)
	}

	s.logger.Debug("Separator switched", zap.String("separator", string(id)), zap.Bool("set", set))
	s.emit(telemetry.KindActuation, s.topics.SeparatorSet(string(id)), id, set)
	return nil
}
