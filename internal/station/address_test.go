package station

import (
	"errors"
	"testing"
)

func TestWordOffsetBands(t *testing.T) {
	bands := []struct {
		from, to int
		offset   int
	}{
		{0, 15, 1},
		{16, 31, 0},
		{32, 47, 3},
		{48, 63, 2},
		{64, 79, 5},
		{80, 95, 4},
	}

	for _, band := range bands {
		for bit := band.from; bit <= band.to; bit++ {
			got, err := WordOffset(bit)
			if err != nil {
				t.Fatalf("WordOffset(%d): %v", bit, err)
			}
			if got != band.offset {
				t.Errorf("WordOffset(%d) = %d, want %d", bit, got, band.offset)
			}
			if BitInWord(bit) != bit%16 {
				t.Errorf("BitInWord(%d) = %d", bit, BitInWord(bit))
			}
		}
	}
}

func TestWordOffsetOutOfRange(t *testing.T) {
	for _, bit := range []int{-1, 96, 200} {
		if _, err := WordOffset(bit); !errors.Is(err, ErrBitOutOfRange) {
			t.Errorf("WordOffset(%d) error = %v, want ErrBitOutOfRange", bit, err)
		}
		if _, err := AddressOf(bit); !errors.Is(err, ErrBitOutOfRange) {
			t.Errorf("AddressOf(%d) error = %v, want ErrBitOutOfRange", bit, err)
		}
	}
}

func TestAddressOf(t *testing.T) {
	tests := []struct {
		bit  int
		want Address
	}{
		{0, Address{Offset: 1, Bit: 0}},
		{17, Address{Offset: 0, Bit: 1}},
		{33, Address{Offset: 3, Bit: 1}},
		{59, Address{Offset: 2, Bit: 11}},
		{66, Address{Offset: 5, Bit: 2}},
	}

	for _, tc := range tests {
		got, err := AddressOf(tc.bit)
		if err != nil {
			t.Fatalf("AddressOf(%d): %v", tc.bit, err)
		}
		if got != tc.want {
			t.Errorf("AddressOf(%d) = %s, want %s", tc.bit, got, tc.want)
		}
	}
}
