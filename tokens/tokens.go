// Package tokens turns a JPEG coefficient block into the sequence of binary
// decisions the arithmetic coder compresses.
//
// The same grammar drives both directions. Every decision goes through a
// BitCoder, which returns the bit that was actually coded: an encoder
// returns its input while a decoder returns what it read from the stream.
// The grammar only ever continues from the returned bits, so decoding fills
// the block in as it goes.
package tokens

import (
	"github.com/egonelbre/exp-lepton-compression/arithcode"
	"github.com/egonelbre/exp-lepton-compression/probmodel"
)

// BitCoder codes a single binary decision with the counter addressed by key.
type BitCoder interface {
	Code(key probmodel.Key, bit bool) (bool, error)
}

// Encoder codes decisions with an arithmetic encoder, adapting model as it
// goes.
type Encoder struct {
	enc   *arithcode.Encoder
	model *probmodel.Model
}

// NewEncoder creates a BitCoder that writes to enc.
func NewEncoder(enc *arithcode.Encoder, model *probmodel.Model) *Encoder {
	return &Encoder{enc: enc, model: model}
}

func (e *Encoder) Code(key probmodel.Key, bit bool) (bool, error) {
	return bit, e.enc.Encode(bit, e.model.Branch(key))
}

// Decoder reads decisions from an arithmetic decoder. It must be driven with
// a model in the same state as the encoder's.
type Decoder struct {
	dec   *arithcode.Decoder
	model *probmodel.Model
}

// NewDecoder creates a BitCoder that reads from dec. The bits passed to Code
// are ignored.
func NewDecoder(dec *arithcode.Decoder, model *probmodel.Model) *Decoder {
	return &Decoder{dec: dec, model: model}
}

func (d *Decoder) Code(key probmodel.Key, _ bool) (bool, error) {
	return d.dec.Decode(d.model.Branch(key))
}

// Token is a single coded decision.
type Token struct {
	Key probmodel.Key
	Bit bool
}

// Recorder keeps every decision passed through it. With a nil Coder it
// returns the bits unchanged.
type Recorder struct {
	Coder  BitCoder
	Tokens []Token
}

func (r *Recorder) Code(key probmodel.Key, bit bool) (bool, error) {
	if r.Coder != nil {
		var err error
		bit, err = r.Coder.Code(key, bit)
		if err != nil {
			return bit, err
		}
	}
	r.Tokens = append(r.Tokens, Token{Key: key, Bit: bit})
	return bit, nil
}

// Reset forgets the recorded tokens.
func (r *Recorder) Reset() { r.Tokens = r.Tokens[:0] }
