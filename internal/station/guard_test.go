package station

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestGuardRetriesUntilSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.failReads = 2
	ft.set(InputBase, 0x1234)
	g := newGuard(ft, RetryPolicy{MaxAttempts: 5}, zaptest.NewLogger(t))

	regs, err := g.readRegisters(context.Background(), InputBase, 0, 1)
	if err != nil {
		t.Fatalf("readRegisters: %v", err)
	}
	if regs[0] != 0x1234 {
		t.Errorf("value = 0x%04X", regs[0])
	}
	if ft.reads != 3 {
		t.Errorf("reads = %d, want 3", ft.reads)
	}
}

func TestGuardWriteRetriesUntilSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.failWrites = 2
	g := newGuard(ft, RetryPolicy{MaxAttempts: 5}, zaptest.NewLogger(t))

	if err := g.writeRegisters(context.Background(), OutputBase, 2, []uint16{0x0040}); err != nil {
		t.Fatalf("writeRegisters: %v", err)
	}
	if ft.writeAttempts != 3 {
		t.Errorf("attempts = %d, want 3", ft.writeAttempts)
	}
	if got := ft.get(OutputBase + 2); got != 0x0040 {
		t.Errorf("value = 0x%04X, want 0x0040", got)
	}
	if log := ft.writeLog(); len(log) != 1 {
		t.Errorf("writes = %+v, want exactly one landed", log)
	}
}

func TestGuardBatchWriteRetriesUntilSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.failWrites = 2
	g := newGuard(ft, RetryPolicy{MaxAttempts: 5}, zaptest.NewLogger(t))

	writes := []registerWrite{{Addr: 8024, Value: 0x6000}, {Addr: 8025, Value: 1200}}
	if err := g.writeBatch(context.Background(), writes); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}
	if ft.writeAttempts != 4 {
		t.Errorf("attempts = %d, want 4", ft.writeAttempts)
	}
	if ft.get(8024) != 0x6000 || ft.get(8025) != 1200 {
		t.Errorf("registers = 0x%04X %d", ft.get(8024), ft.get(8025))
	}
	log := ft.writeLog()
	if len(log) != 2 || log[0].Addr != 8024 || !log[0].Single || log[1].Addr != 8025 {
		t.Errorf("writes = %+v", log)
	}
	if !ft.autoOpen || !ft.autoClose {
		t.Error("auto open/close not restored")
	}
}

func TestGuardEmptyResultIsFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.emptyReads = 1
	g := newGuard(ft, RetryPolicy{MaxAttempts: 2}, zaptest.NewLogger(t))

	if _, err := g.readRegisters(context.Background(), OutputBase, 0, 6); err != nil {
		t.Fatalf("readRegisters: %v", err)
	}
	if ft.reads != 2 {
		t.Errorf("reads = %d, want 2", ft.reads)
	}
}

func TestGuardExhaustsBudget(t *testing.T) {
	ft := newFakeTransport()
	ft.failWrites = -1
	g := newGuard(ft, RetryPolicy{MaxAttempts: 4, Backoff: time.Millisecond}, zaptest.NewLogger(t))

	err := g.writeRegisters(context.Background(), OutputBase, 3, []uint16{1})
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	if !errors.Is(err, errFakeLink) {
		t.Errorf("last transport error not wrapped: %v", err)
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
	if te.Op != "write" || te.Address != OutputBase+3 || te.Attempts != 4 {
		t.Errorf("TransportError = %+v", te)
	}
}

func TestGuardTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.failReads = 1 << 30
	g := newGuard(ft, RetryPolicy{Backoff: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, zaptest.NewLogger(t))

	start := time.Now()
	_, err := g.readRegisters(context.Background(), InputBase, 0, 1)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not honored, took %s", elapsed)
	}
}

func TestGuardUnboundedRetryStopsOnCancel(t *testing.T) {
	ft := newFakeTransport()
	ft.failReads = 1 << 30
	g := newGuard(ft, RetryPolicy{Backoff: time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := g.readRegisters(ctx, InputBase, 0, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("err = %v, want ErrTransportUnavailable", err)
	}
}

func TestExclusiveHoldsControlLock(t *testing.T) {
	s, _, _ := newTestStation(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go s.Exclusive(ctx, func(r *Registers) error {
		close(entered)
		<-release
		return nil
	})
	<-entered

	done := make(chan error, 1)
	go func() { done <- s.Forward(ctx, "A") }()

	select {
	case <-done:
		t.Fatal("Forward ran while another caller held the control lock")
	case <-time.After(20 * time.Millisecond):
	}

	// sensor reads only need the I/O lock
	if _, err := s.ConveyorWorkpieceBegin(ctx, "A"); err != nil {
		t.Fatalf("sensor read blocked or failed: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Forward: %v", err)
	}
}
