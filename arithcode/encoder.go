package arithcode

import (
	"io"
	"math/bits"
)

const (
	// initialRange is the range after the conventional leading zero marker
	// bit, which is folded into the initial state instead of being coded.
	initialRange = 128
	// initialCount offsets the bit counter so a byte completes every 8 shifts
	// once the first 24 bits of value are filled.
	initialCount = -24
	// flushBits zero bits at probability half push every live value byte out.
	flushBits = 32
)

// Encoder compresses binary decisions using arithmetic coding.
type Encoder struct {
	output *byteWriter
	rng    uint32 // Current range, kept in [128, 255] between bits
	low    uint32 // Low end of the interval, 24 live bits plus shift room
	count  int    // Bits accumulated towards the next output byte
	closed bool
}

// NewEncoder creates a new arithmetic encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		output: newByteWriter(w),
		rng:    initialRange,
		count:  initialCount,
	}
}

// Encode writes bit using the probability of branch and then records the
// bit in branch.
func (e *Encoder) Encode(bit bool, branch *Branch) error {
	if err := e.EncodeBit(bit, branch.Probability()); err != nil {
		return err
	}
	branch.Observe(bit)
	return nil
}

// EncodeBit writes bit where prob is the probability of a false bit scaled
// to [0, 255].
func (e *Encoder) EncodeBit(bit bool, prob uint8) error {
	if e.closed {
		return ErrClosed
	}

	// Narrow the interval.
	split := 1 + (((e.rng - 1) * uint32(prob)) >> 8)
	if bit {
		e.low += split
		e.rng -= split
	} else {
		e.rng = split
	}

	// Renormalize.
	shift := bits.LeadingZeros8(uint8(e.rng))
	e.rng <<= shift
	e.count += shift
	if e.count >= 0 {
		offset := shift - e.count
		carry := (e.low<<(offset-1))&0x80000000 != 0
		completed := byte(e.low >> (24 - offset))

		e.low <<= offset
		shift = e.count
		e.low &= 0xFFFFFF
		e.count -= 8

		if err := e.output.put(completed, carry); err != nil {
			return err
		}
	}
	e.low <<= shift

	return nil
}

// Close finalizes the encoding and flushes any remaining bytes.
func (e *Encoder) Close() error {
	if e.closed {
		return ErrClosed
	}
	for i := 0; i < flushBits; i++ {
		if err := e.EncodeBit(false, 128); err != nil {
			return err
		}
	}
	e.closed = true
	return e.output.flush()
}

// Written returns the number of bytes emitted so far, including bytes still
// waiting in the internal buffer but not the pending carry bytes.
func (e *Encoder) Written() int64 {
	return e.output.written
}

// byteWriter withholds the most recent byte and a run of 0xFF bytes that
// follow it, until it is known whether a carry will ripple into them.
type byteWriter struct {
	output  io.Writer
	buf     []byte
	written int64

	started bool
	pending byte
	run     int
}

// byteWriterBuffer is the size of output batches handed to the io.Writer.
const byteWriterBuffer = 4096

func newByteWriter(w io.Writer) *byteWriter {
	return &byteWriter{
		output: w,
		buf:    make([]byte, 0, byteWriterBuffer),
	}
}

// put accepts the next completed byte and whether adding it carried into
// the bytes before it.
func (bw *byteWriter) put(b byte, carry bool) error {
	if !bw.started {
		bw.started = true
		bw.pending = b
		return nil
	}

	if carry {
		bw.pending++
		// The withheld 0xFF bytes roll over to zero.
		for ; bw.run > 0; bw.run-- {
			if err := bw.emit(bw.pending); err != nil {
				return err
			}
			bw.pending = 0x00
		}
	}

	if b == 0xFF {
		bw.run++
		return nil
	}

	if err := bw.emit(bw.pending); err != nil {
		return err
	}
	for ; bw.run > 0; bw.run-- {
		if err := bw.emit(0xFF); err != nil {
			return err
		}
	}
	bw.pending = b
	return nil
}

func (bw *byteWriter) emit(b byte) error {
	bw.buf = append(bw.buf, b)
	bw.written++
	if len(bw.buf) >= byteWriterBuffer {
		return bw.drain()
	}
	return nil
}

func (bw *byteWriter) drain() error {
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.output.Write(bw.buf)
	bw.buf = bw.buf[:0]
	return err
}

// flush emits the pending byte and its run; no carry can reach them anymore.
func (bw *byteWriter) flush() error {
	if bw.started {
		if err := bw.emit(bw.pending); err != nil {
			return err
		}
		for ; bw.run > 0; bw.run-- {
			if err := bw.emit(0xFF); err != nil {
				return err
			}
		}
		bw.started = false
	}
	return bw.drain()
}
