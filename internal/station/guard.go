package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errShortRead = errors.New("short or empty register read")

// RetryPolicy bounds how often a register operation is attempted.
//
// MaxAttempts <= 0 means unlimited attempts. Timeout 0 means no deadline
// besides the caller's context. With both unset an operation is retried
// until it succeeds or the context ends.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     50 * time.Millisecond,
		Timeout:     2 * time.Second,
	}
}

// guard serializes every register transfer on the transport. mu is the
// I/O lock; callers that also need the control lock take it first.
type guard struct {
	mu        sync.Mutex
	transport Transport
	policy    RetryPolicy
	logger    *zap.Logger

	// observe, if set, sees the words of every successful read and write
	observe func(base uint16, offset int, words []uint16)
}

func newGuard(transport Transport, policy RetryPolicy, logger *zap.Logger) *guard {
	return &guard{
		transport: transport,
		policy:    policy,
		logger:    logger,
	}
}

func (g *guard) readRegisters(ctx context.Context, base uint16, offset, count int) ([]uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	addr := base + uint16(offset)
	var result []uint16
	err := g.retry(ctx, "read", addr, func(ctx context.Context) error {
		regs, err := g.transport.ReadHoldingRegisters(ctx, addr, uint16(count))
		if err != nil {
			return err
		}
		if len(regs) < count {
			return fmt.Errorf("%w: got %d of %d", errShortRead, len(regs), count)
		}
		result = regs[:count]
		return nil
	})
	if err == nil && g.observe != nil {
		g.observe(base, offset, result)
	}
	return result, err
}

func (g *guard) writeRegisters(ctx context.Context, base uint16, offset int, values []uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	addr := base + uint16(offset)
	err := g.retry(ctx, "write", addr, func(ctx context.Context) error {
		return g.transport.WriteMultipleRegisters(ctx, addr, values)
	})
	if err == nil && g.observe != nil {
		g.observe(base, offset, values)
	}
	return err
}

// registerWrite is one FC06 write of a batch.
type registerWrite struct {
	Addr  uint16
	Value uint16
}

// writeBatch performs writes in order over one held connection. The I/O
// lock is held for the whole batch, auto-open and auto-close are
// suspended and re-enabled afterwards, also on error.
func (g *guard) writeBatch(ctx context.Context, writes []registerWrite) error {
	if len(writes) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.transport.SetAutoOpen(false)
	g.transport.SetAutoClose(false)
	defer func() {
		if err := g.transport.Close(); err != nil {
			g.logger.Debug("Closing batch connection failed", zap.Error(err))
		}
		g.transport.SetAutoOpen(true)
		g.transport.SetAutoClose(true)
	}()

	for _, w := range writes {
		err := g.retry(ctx, "write", w.Addr, func(ctx context.Context) error {
			// Open is a no-op while the connection is held. A failed
			// write drops it, so the retry dials again here.
			if err := g.transport.Open(ctx); err != nil {
				return err
			}
			return g.transport.WriteSingleRegister(ctx, w.Addr, w.Value)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// retry runs fn until it succeeds or the policy is exhausted. Must be
// called with mu held.
func (g *guard) retry(ctx context.Context, op string, addr uint16, fn func(context.Context) error) error {
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}

	var lastErr error
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return g.giveUp(op, addr, attempts, lastErr, err)
		}

		attempts++
		err := fn(ctx)
		if err == nil {
			if attempts > 1 {
				g.logger.Info("Register operation recovered",
					zap.String("op", op),
					zap.Uint16("address", addr),
					zap.Int("attempts", attempts))
			}
			return nil
		}
		lastErr = err

		g.logger.Warn("Register operation failed",
			zap.String("op", op),
			zap.Uint16("address", addr),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if g.policy.MaxAttempts > 0 && attempts >= g.policy.MaxAttempts {
			return g.giveUp(op, addr, attempts, lastErr, nil)
		}

		if g.policy.Backoff > 0 {
			timer := time.NewTimer(g.policy.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return g.giveUp(op, addr, attempts, lastErr, ctx.Err())
			case <-timer.C:
			}
		}
	}
}

func (g *guard) giveUp(op string, addr uint16, attempts int, lastErr, ctxErr error) error {
	err := lastErr
	switch {
	case err == nil:
		err = ctxErr
	case ctxErr != nil:
		err = fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}

	g.logger.Error("Register operation abandoned",
		zap.String("op", op),
		zap.Uint16("address", addr),
		zap.Int("attempts", attempts),
		zap.Error(err))

	return &TransportError{Op: op, Address: addr, Attempts: attempts, Err: err}
}

// Registers is the write handle handed out by Station.Exclusive. It is
// only valid inside the callback.
type Registers struct {
	g *guard
}

// ReadOutput reads count output words starting at offset.
func (r *Registers) ReadOutput(ctx context.Context, offset, count int) ([]uint16, error) {
	return r.g.readRegisters(ctx, OutputBase, offset, count)
}

// ReadInput reads count input words starting at offset.
func (r *Registers) ReadInput(ctx context.Context, offset, count int) ([]uint16, error) {
	return r.g.readRegisters(ctx, InputBase, offset, count)
}

// WriteOutput writes values to consecutive output words starting at offset.
func (r *Registers) WriteOutput(ctx context.Context, offset int, values ...uint16) error {
	return r.g.writeRegisters(ctx, OutputBase, offset, values)
}

// updateOutputWord is one read-modify-write of a single output word.
func (r *Registers) updateOutputWord(ctx context.Context, offset int, modify func(uint16) uint16) error {
	regs, err := r.ReadOutput(ctx, offset, 1)
	if err != nil {
		return err
	}
	return r.WriteOutput(ctx, offset, modify(regs[0]))
}
