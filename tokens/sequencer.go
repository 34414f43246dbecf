package tokens

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/egonelbre/exp-lepton-compression/blockctx"
	"github.com/egonelbre/exp-lepton-compression/probmodel"
)

// ErrCorrupt is returned when decoded decisions do not form a valid block.
var ErrCorrupt = errors.New("tokens: corrupt token stream")

// maxLength is the bit length of the largest coded magnitude, 1024.
const maxLength = 11

// State is a step of the block grammar.
type State uint8

const (
	Begin State = iota
	SevenBySeven
	EdgeH
	EdgeV
	DC
	Done
)

var stateNames = [...]string{
	Begin:        "begin",
	SevenBySeven: "7x7",
	EdgeH:        "horizontal edge",
	EdgeV:        "vertical edge",
	DC:           "dc",
	Done:         "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Sequencer walks the grammar of one block at a time:
// the 7x7 group, the horizontal edge, the vertical edge and finally DC.
type Sequencer struct {
	coder BitCoder

	ctx   *blockctx.Context
	color int
	state State
	edges blockctx.Edges
}

// NewSequencer creates a sequencer that codes every decision with coder.
func NewSequencer(coder BitCoder) *Sequencer {
	return &Sequencer{coder: coder, state: Done}
}

// Start begins a new block. c.Here holds the block to encode, or a zeroed
// block that is filled in while decoding. color is the colour class of the
// component.
func (s *Sequencer) Start(c *blockctx.Context, color int) {
	s.ctx = c
	s.color = color
	s.state = Begin
	s.edges = blockctx.Edges{}
}

// State returns the next step to run.
func (s *Sequencer) State() State { return s.state }

// Edges returns the pixel edges the block leaves for its neighbours. They
// are valid once the sequencer reaches Done.
func (s *Sequencer) Edges() blockctx.Edges { return s.edges }

// Step codes the group of the current state and advances to the next one.
// On error the state is left unchanged.
func (s *Sequencer) Step() error {
	var err error
	switch s.state {
	case Begin:
	case SevenBySeven:
		err = s.code7x7()
	case EdgeH:
		err = s.codeEdge(false)
	case EdgeV:
		err = s.codeEdge(true)
	case DC:
		err = s.codeDC()
	case Done:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%v: %w", s.state, err)
	}
	s.state++
	return nil
}

// Block codes a whole block and returns the edges it leaves for its
// neighbours.
func (s *Sequencer) Block(c *blockctx.Context, color int) (blockctx.Edges, error) {
	s.Start(c, color)
	for s.state != Done {
		if err := s.Step(); err != nil {
			return blockctx.Edges{}, err
		}
	}
	return s.edges, nil
}

func (s *Sequencer) code7x7() error {
	c := s.ctx
	bin := c.NonzeroBin7x7()

	// The count is coded with six bits, most significant first, each bit
	// conditioned on the ones before it.
	in := c.Here.NonzeroCount7x7()
	nz, sofar := 0, 0
	for index := 5; index >= 0; index-- {
		key := probmodel.NewKey(probmodel.NonzeroCount7x7, s.color, bin, index, sofar&31)
		bit, err := s.coder.Code(key, in&(1<<index) != 0)
		if err != nil {
			return err
		}
		sofar = sofar<<1 | b2i(bit)
		nz = nz<<1 | b2i(bit)
	}
	if nz > len(blockctx.Unzigzag49) {
		return fmt.Errorf("%w: %d nonzero coefficients", ErrCorrupt, nz)
	}

	for zz := range blockctx.Unzigzag49 {
		coord := int(blockctx.Unzigzag49[zz])
		if nz == 0 {
			c.Here[coord] = 0
			continue
		}
		nzBin := int(blockctx.NonzeroToBin[nz])
		bucket := blockctx.Prior7x7Bucket(c.Prior7x7(coord))

		v := c.Here[coord]
		length, err := s.codeExponent(probmodel.NewKey(probmodel.Exponent7x7, s.color, nzBin, zz, bucket, 0), v)
		if err != nil {
			return err
		}
		if length == 0 {
			c.Here[coord] = 0
			continue
		}
		positive, err := s.coder.Code(probmodel.NewKey(probmodel.Sign, s.color, 0, 0), v >= 0)
		if err != nil {
			return err
		}
		nz--

		mag, err := s.codeNoise(probmodel.NewKey(probmodel.Noise, s.color, coord, nzBin, 0), v, length, length-2)
		if err != nil {
			return err
		}
		c.Here[coord] = signed(mag, positive)
	}
	if nz != 0 {
		return fmt.Errorf("%w: %d 7x7 coefficients left after the last position", ErrCorrupt, nz)
	}
	return nil
}

// codeEdge codes the first row (vertical false) or the first column
// (vertical true), DC excluded.
func (s *Sequencer) codeEdge(vertical bool) error {
	c := s.ctx
	nz77 := c.Here.NonzeroCount7x7()
	eobX, eobY := c.Here.EOB()

	countKind, eob, in, laneBase := probmodel.NonzeroCountH, eobX, c.Here.NonzeroCountH(), 0
	if vertical {
		countKind, eob, in, laneBase = probmodel.NonzeroCountV, eobY, c.Here.NonzeroCountV(), blockctx.EdgeLanes
	}

	nz, sofar := 0, 0
	for index := 2; index >= 0; index-- {
		key := probmodel.NewKey(countKind, s.color, eob, (nz77+3)/7, index, sofar)
		bit, err := s.coder.Code(key, in&(1<<index) != 0)
		if err != nil {
			return err
		}
		sofar = sofar<<1 | b2i(bit)
		nz = nz<<1 | b2i(bit)
	}

	for lane := range blockctx.EdgeLanes {
		coord := lane + 1
		if vertical {
			coord = (lane + 1) * 8
		}
		if nz == 0 {
			c.Here[coord] = 0
			continue
		}

		var prior int32
		if vertical {
			prior = c.BestPriorV(lane)
		} else {
			prior = c.BestPriorH(lane)
		}
		bucket := blockctx.PriorBucket(prior)

		v := c.Here[coord]
		length, err := s.codeExponent(probmodel.NewKey(probmodel.ExponentEdge, s.color, nz, laneBase+lane, bucket, 0), v)
		if err != nil {
			return err
		}
		positive := true
		if length != 0 {
			positive, err = s.coder.Code(probmodel.NewKey(probmodel.Sign, s.color, blockctx.SignContext(prior), bucket), v >= 0)
			if err != nil {
				return err
			}
		}

		// Bits above the noise threshold are coded against the prior, the
		// rest as noise.
		threshold := c.Quant.NoiseThreshold(coord)
		abs := absCoef(v)
		var mag int32
		if length > 0 {
			mag = 1 << (length - 1)
		}
		thresholdCtx := blockctx.ThresholdContext(prior, threshold)
		encoded := 1
		i := length - 2
		for ; i >= threshold; i-- {
			key := probmodel.NewKey(probmodel.Threshold, s.color, thresholdCtx, length-threshold, encoded)
			bit, err := s.coder.Code(key, abs&(1<<i) != 0)
			if err != nil {
				return err
			}
			encoded = min(encoded<<1|b2i(bit), 127)
			if bit {
				mag |= 1 << i
			}
		}
		for ; i >= 0; i-- {
			key := probmodel.NewKey(probmodel.Noise, s.color, coord, nz, i)
			bit, err := s.coder.Code(key, abs&(1<<i) != 0)
			if err != nil {
				return err
			}
			if bit {
				mag |= 1 << i
			}
		}

		c.Here[coord] = signed(mag, positive)
		if length != 0 {
			nz--
		}
	}
	if nz != 0 {
		return fmt.Errorf("%w: %d edge coefficients left after the last lane", ErrCorrupt, nz)
	}
	return nil
}

func (s *Sequencer) codeDC() error {
	c := s.ctx
	p := blockctx.ReconstructSansDC(c.Here, c.Quant)
	pred := c.PredictDC(&p)

	unc := blockctx.UncertaintyBucket(pred.Uncertainty, 11)
	unc2 := blockctx.UncertaintyBucket(pred.Uncertainty2, 16)

	residual := blockctx.WrapDC(c.Here[0], pred.Predicted)
	length, err := s.codeExponent(probmodel.NewKey(probmodel.ExponentDC, s.color, unc, unc2, 0), residual)
	if err != nil {
		return err
	}

	var decoded int16
	if length != 0 {
		slot := 3
		switch {
		case pred.Uncertainty2 > 0:
			slot = 2
		case pred.Uncertainty2 < 0:
			slot = 1
		}
		positive, err := s.coder.Code(probmodel.NewKey(probmodel.Sign, s.color, 0, slot), residual >= 0)
		if err != nil {
			return err
		}
		mag, err := s.codeNoise(probmodel.NewKey(probmodel.NoiseDC, s.color, unc, 0), residual, length, length-2)
		if err != nil {
			return err
		}
		if mag > -blockctx.MinCoefficient {
			return fmt.Errorf("%w: dc residual %d", ErrCorrupt, mag)
		}
		decoded = signed(mag, positive)
	}

	c.Here[0] = blockctx.UnwrapDC(decoded, pred.Predicted)
	s.edges = blockctx.StoredEdges(&p, c.Here[0], c.Quant)
	return nil
}

// codeExponent codes the bit length of |v| in unary: one true bit per
// length step followed by a false bit. The last address component of key
// is the step index.
func (s *Sequencer) codeExponent(key probmodel.Key, v int16) (int, error) {
	length := bits.Len32(uint32(absCoef(v)))
	for i := 0; ; i++ {
		if i > maxLength {
			return 0, fmt.Errorf("%w: exponent longer than %d", ErrCorrupt, maxLength)
		}
		key.Addr[key.N-1] = uint16(i)
		more, err := s.coder.Code(key, i != length)
		if err != nil {
			return 0, err
		}
		if !more {
			return i, nil
		}
	}
}

// codeNoise codes bits hi down to 0 of |v| below its leading bit and
// returns the magnitude with a bit length of length. The last address
// component of key is the bit position.
func (s *Sequencer) codeNoise(key probmodel.Key, v int16, length, hi int) (int32, error) {
	abs := absCoef(v)
	mag := int32(1) << (length - 1)
	for i := hi; i >= 0; i-- {
		key.Addr[key.N-1] = uint16(i)
		bit, err := s.coder.Code(key, abs&(1<<i) != 0)
		if err != nil {
			return 0, err
		}
		if bit {
			mag |= 1 << i
		}
	}
	return mag, nil
}

func signed(mag int32, positive bool) int16 {
	if positive {
		return int16(mag)
	}
	return int16(-mag)
}

func absCoef(v int16) int32 {
	if v < 0 {
		return -int32(v)
	}
	return int32(v)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
