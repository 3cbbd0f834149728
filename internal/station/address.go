package station

import "fmt"

// Register base addresses of the station's Modbus node.
const (
	InputBase  uint16 = 8001 // digital sensor words
	OutputBase uint16 = 8018 // digital actuator words

	// Number of digital words in each bank
	WordCount = 6

	// Fixed output word of the separator bank
	separatorOffset = 5

	bitsPerWord = 16
	bitCount    = WordCount * bitsPerWord
)

// Address locates one bit inside the input or output word bank.
type Address struct {
	Offset int // word offset relative to InputBase/OutputBase
	Bit    int // 0..15
}

func (a Address) String() string {
	return fmt.Sprintf("+%d.%d", a.Offset, a.Bit)
}

// wordBands maps bit index / 16 to the word offset. The node exposes its
// words in little endian pairs, so the bands are swapped pairwise.
var wordBands = [WordCount]int{
	1, // bits  0..15
	0, // bits 16..31
	3, // bits 32..47
	2, // bits 48..63
	5, // bits 64..79
	4, // bits 80..95, unused on this station
}

// WordOffset returns the word offset holding a global bit index.
func WordOffset(bit int) (int, error) {
	if bit < 0 || bit >= bitCount {
		return 0, fmt.Errorf("%w: %d", ErrBitOutOfRange, bit)
	}
	return wordBands[bit/bitsPerWord], nil
}

// BitInWord returns the position of a global bit index inside its word.
func BitInWord(bit int) int {
	return bit % bitsPerWord
}

// AddressOf resolves a global bit index to a word offset and bit.
func AddressOf(bit int) (Address, error) {
	offset, err := WordOffset(bit)
	if err != nil {
		return Address{}, err
	}
	return Address{Offset: offset, Bit: BitInWord(bit)}, nil
}

// addressOfRole resolves one role of a channel.
func addressOfRole(ch Channel, role Role) (Address, error) {
	bit, err := ch.Bit(role)
	if err != nil {
		return Address{}, err
	}
	return AddressOf(bit)
}

func setBit(word uint16, bit int) uint16   { return word | 1<<uint(bit) }
func clearBit(word uint16, bit int) uint16 { return word &^ (1 << uint(bit)) }
func testBit(word uint16, bit int) bool    { return word&(1<<uint(bit)) != 0 }
