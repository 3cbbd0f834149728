package station

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

func TestRegisterEvents(t *testing.T) {
	ft := newFakeTransport()
	rec := &recorder{}
	s := New(ft, Config{Retry: fastRetry(), RegisterEvents: true}, zaptest.NewLogger(t), rec)
	ctx := context.Background()

	ft.set(InputBase, 0x0101)
	if _, err := s.ReadInputRegisters(ctx, 0, 2); err != nil {
		t.Fatalf("ReadInputRegisters: %v", err)
	}
	if err := s.Forward(ctx, "A"); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	want := []string{
		"Transport_out/Input_register",
		"Transport_out/Output_register",
		"Transport_out/Output_register",
		"Transport_out/conveyor/A/direction",
	}
	if got := rec.topics(); !reflect.DeepEqual(got, want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.events[0].Kind != telemetry.KindRegister {
		t.Errorf("kind = %s", rec.events[0].Kind)
	}
	in := rec.events[0].Value.(RegisterWords)
	if in.Address != InputBase || !reflect.DeepEqual(in.Words, []uint16{0x0101, 0}) {
		t.Errorf("input words = %+v", in)
	}
	// the read-modify-write of A: word +1 read as 0, written as 0x0001
	written := rec.events[2].Value.(RegisterWords)
	if written.Address != OutputBase+1 || !reflect.DeepEqual(written.Words, []uint16{0x0001}) {
		t.Errorf("output words = %+v", written)
	}
}

func TestRegisterEventsOffByDefault(t *testing.T) {
	s, ft, rec := newTestStation(t)
	ft.set(InputBase, 0x0101)

	if _, err := s.ReadInputRegisters(context.Background(), 0, 1); err != nil {
		t.Fatal(err)
	}
	if got := rec.topics(); len(got) != 0 {
		t.Errorf("topics = %v, want none", got)
	}
}

func TestRegisterEventsSkipFailedTransfers(t *testing.T) {
	ft := newFakeTransport()
	ft.failWrites = -1
	rec := &recorder{}
	s := New(ft, Config{Retry: fastRetry(), RegisterEvents: true}, zaptest.NewLogger(t), rec)

	if err := s.Forward(context.Background(), "A"); err == nil {
		t.Fatal("expected error")
	}
	// only the successful read of the output word is published
	if got := rec.topics(); len(got) != 1 || got[0] != "Transport_out/Output_register" {
		t.Errorf("topics = %v", got)
	}
}
