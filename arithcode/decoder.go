package arithcode

import (
	"bufio"
	"errors"
	"io"
	"math/bits"
)

var (
	// ErrClosed is returned when coding after Close.
	ErrClosed = errors.New("arithcode: encoder closed")
	// ErrOverread is returned when the decoder reads far past the input.
	ErrOverread = errors.New("arithcode: read past end of input")
)

// overreadLimit bounds the zero bytes synthesized after the end of input.
// The bit window looks ahead at most 8 bytes past the last decision.
const overreadLimit = 16

// Decoder decompresses binary decisions using arithmetic coding.
type Decoder struct {
	input  io.ByteReader
	value  uint64 // Window of input bits aligned to the top
	bits   int    // Number of valid bits in value
	rng    uint32 // Current range
	padded int    // Zero bytes synthesized after EOF
}

// NewDecoder creates a new arithmetic decoder that reads from r.
func NewDecoder(r io.Reader) (*Decoder, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	d := &Decoder{
		input: br,
		rng:   initialRange,
	}
	if err := d.fill(); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode reads the next bit using the probability of branch and then
// records the bit in branch.
func (d *Decoder) Decode(branch *Branch) (bool, error) {
	bit, err := d.DecodeBit(branch.Probability())
	if err != nil {
		return false, err
	}
	branch.Observe(bit)
	return bit, nil
}

// DecodeBit reads the next bit where prob is the probability of a false bit.
func (d *Decoder) DecodeBit(prob uint8) (bool, error) {
	if d.bits < 8 {
		if err := d.fill(); err != nil {
			return false, err
		}
	}

	split := 1 + (((d.rng - 1) * uint32(prob)) >> 8)
	bigsplit := uint64(split) << 56

	bit := false
	if d.value >= bigsplit {
		bit = true
		d.rng -= split
		d.value -= bigsplit
	} else {
		d.rng = split
	}

	shift := bits.LeadingZeros8(uint8(d.rng))
	d.rng <<= shift
	d.value <<= shift
	d.bits -= shift

	return bit, nil
}

// fill tops up the bit window with whole bytes.
func (d *Decoder) fill() error {
	for d.bits <= 56 {
		b, err := d.input.ReadByte()
		if err != nil {
			if err != io.EOF {
				return err
			}
			d.padded++
			if d.padded > overreadLimit {
				return ErrOverread
			}
			b = 0
		}
		d.value |= uint64(b) << (56 - d.bits)
		d.bits += 8
	}
	return nil
}
