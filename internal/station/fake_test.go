package station

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

var errFakeLink = errors.New("fake link down")

type writeOp struct {
	Addr   uint16
	Values []uint16
	Single bool
}

// fakeTransport is an in-memory register file with fault injection.
type fakeTransport struct {
	mu   sync.Mutex
	regs map[uint16]uint16

	failReads  int // fail the next n reads
	emptyReads int // answer the next n reads with no registers
	failWrites int // fail the next n writes, -1 for all

	writes        []writeOp
	writeAttempts int
	reads         int

	open      bool
	opens     int
	closes    int
	autoOpen  bool
	autoClose bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		regs:      make(map[uint16]uint16),
		autoOpen:  true,
		autoClose: true,
	}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		f.open = true
		f.opens++
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.open = false
		f.closes++
	}
	return nil
}

func (f *fakeTransport) SetAutoOpen(enabled bool) {
	f.mu.Lock()
	f.autoOpen = enabled
	f.mu.Unlock()
}

func (f *fakeTransport) SetAutoClose(enabled bool) {
	f.mu.Lock()
	f.autoClose = enabled
	f.mu.Unlock()
}

func (f *fakeTransport) connected() bool {
	return f.open || f.autoOpen
}

func (f *fakeTransport) ReadHoldingRegisters(ctx context.Context, addr, quantity uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if !f.connected() {
		return nil, errFakeLink
	}
	if f.failReads > 0 {
		f.failReads--
		return nil, errFakeLink
	}
	if f.emptyReads > 0 {
		f.emptyReads--
		return nil, nil
	}

	out := make([]uint16, quantity)
	for i := range out {
		out[i] = f.regs[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeTransport) write(addr uint16, values []uint16, single bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeAttempts++
	if !f.connected() {
		return errFakeLink
	}
	if f.failWrites != 0 {
		if f.failWrites > 0 {
			f.failWrites--
		}
		return errFakeLink
	}

	f.writes = append(f.writes, writeOp{Addr: addr, Values: append([]uint16(nil), values...), Single: single})
	for i, v := range values {
		f.regs[addr+uint16(i)] = v
	}
	return nil
}

func (f *fakeTransport) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	return f.write(addr, []uint16{value}, true)
}

func (f *fakeTransport) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return f.write(addr, values, false)
}

func (f *fakeTransport) set(addr, value uint16) {
	f.mu.Lock()
	f.regs[addr] = value
	f.mu.Unlock()
}

func (f *fakeTransport) get(addr uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[addr]
}

func (f *fakeTransport) writeLog() []writeOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeOp(nil), f.writes...)
}

// recorder collects notified events.
type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Notify(e telemetry.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 0, Timeout: 0}
}

func newTestStation(t *testing.T) (*Station, *fakeTransport, *recorder) {
	t.Helper()
	ft := newFakeTransport()
	rec := &recorder{}
	s := New(ft, Config{Retry: fastRetry()}, zaptest.NewLogger(t), rec)
	return s, ft, rec
}
