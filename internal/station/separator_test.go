package station

import (
	"context"
	"errors"
	"testing"
)

func TestSeparatorSetReset(t *testing.T) {
	s, ft, rec := newTestStation(t)
	ctx := context.Background()

	const word = OutputBase + 5
	ft.set(word, 0x8000)

	tests := []struct {
		name string
		op   func(context.Context, DeviceID) error
		id   DeviceID
		want uint16
	}{
		{"set V2", s.SetSeparator, "V2", 0x8002},
		{"set V1", s.SetSeparator, "V1", 0x8003},
		{"set V3", s.SetSeparator, "V3", 0x8007},
		{"reset V2", s.ResetSeparator, "V2", 0x8005},
		{"reset V2 twice", s.ResetSeparator, "V2", 0x8005},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.op(ctx, tc.id); err != nil {
				t.Fatal(err)
			}
			if got := ft.get(word); got != tc.want {
				t.Errorf("word = 0x%04X, want 0x%04X", got, tc.want)
			}
		})
	}

	for _, w := range ft.writeLog() {
		if w.Addr != word {
			t.Errorf("separator wrote register %d, want %d", w.Addr, word)
		}
	}
	if topics := rec.topics(); topics[0] != "Transport_out/separator/V2/set" {
		t.Errorf("first event topic = %s", topics[0])
	}
}

func TestSeparatorWrongKind(t *testing.T) {
	s, _, _ := newTestStation(t)
	if err := s.SetSeparator(context.Background(), "A"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("got %v, want ErrWrongKind", err)
	}
}
