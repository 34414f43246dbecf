package blockctx

import "math/bits"

// Context gathers what the context builders may look at while a block is
// coded. Left, Above and AboveLeft are nil when the neighbour is absent.
// AboveLeft is only consulted when both Left and Above are present.
//
// Here may be partially filled while decoding: every builder only reads
// coefficients that precede the coded value in the block grammar.
type Context struct {
	Here      *Block
	Left      *Block
	Above     *Block
	AboveLeft *Block

	// LeftEdges and AboveEdges are the pixel edges stored by the
	// neighbours, they must be set whenever the matching block is.
	LeftEdges  *Edges
	AboveEdges *Edges

	Quant *QuantTable
}

// NonzeroBin7x7 returns the bin of the 7x7 nonzero count context, derived
// from the nonzero counts of the neighbours.
func (c *Context) NonzeroBin7x7() int {
	x := 0
	switch {
	case c.Left != nil && c.Above != nil:
		x = (c.Above.NonzeroCount7x7() + c.Left.NonzeroCount7x7() + 2) >> 2
	case c.Above != nil:
		x = (c.Above.NonzeroCount7x7() + 1) >> 1
	case c.Left != nil:
		x = (c.Left.NonzeroCount7x7() + 1) >> 1
	}
	return int(NonzeroToBin[x])
}

// Prior7x7 predicts the magnitude of the coefficient at raster position
// coord from the same position in the neighbours.
func (c *Context) Prior7x7(coord int) int {
	total := 0
	if c.Left != nil {
		total += abs(int(c.Left[coord]))
	}
	if c.Above != nil {
		total += abs(int(c.Above[coord]))
	}
	if c.Left != nil && c.Above != nil {
		total = (total*13 + 6*abs(int(c.AboveLeft[coord]))) >> 5
	}
	return total
}

// Prior7x7Bucket returns the bit length of prior, clamped to 10.
func Prior7x7Bucket(prior int) int {
	return min(bits.Len(uint(prior)), Max7x7PriorBucket)
}

// BestPriorH predicts the first row coefficient in column lane+1 from the
// same column of the above block and the already coded column of this
// block. It returns 0 without an above neighbour.
func (c *Context) BestPriorH(lane int) int32 {
	if c.Above == nil {
		return 0
	}
	band := lane + 1
	var x, a [8]int32
	for i := range 8 {
		if i > 0 {
			x[i] = int32(c.Here[band+8*i])
		}
		a[i] = int32(c.Above[band+8*i])
	}
	return bestPrior(&x, &a, c.Quant.laneH[band*8:band*8+8])
}

// BestPriorV predicts the first column coefficient in row lane+1 from the
// same row of the left block and the already coded row of this block. It
// returns 0 without a left neighbour.
func (c *Context) BestPriorV(lane int) int32 {
	if c.Left == nil {
		return 0
	}
	band := lane + 1
	var x, a [8]int32
	for i := range 8 {
		if i > 0 {
			x[i] = int32(c.Here[band*8+i])
		}
		a[i] = int32(c.Left[band*8+i])
	}
	return bestPrior(&x, &a, c.Quant.laneV[band*8:band*8+8])
}

// bestPrior extrapolates the boundary pixels of the neighbour into this
// block and solves for the missing edge coefficient.
func bestPrior(x, a *[8]int32, weights []int32) int32 {
	prediction := a[0] * weights[0]
	for i := 1; i < 8; i++ {
		if i&1 == 1 {
			prediction -= weights[i] * (x[i] + a[i])
		} else {
			prediction -= weights[i] * (x[i] - a[i])
		}
	}
	return prediction / weights[0]
}

// PriorBucket returns the bit length of |prior| clamped to 11.
func PriorBucket(prior int32) int {
	return min(bits.Len32(abs32(prior)), MaxPriorBucket)
}

// SignContext classifies prior as zero (0), positive (1) or negative (2).
func SignContext(prior int32) int {
	switch {
	case prior == 0:
		return 0
	case prior > 0:
		return 1
	default:
		return 2
	}
}

// ThresholdContext returns |prior| without its noise bits, clamped to 255.
func ThresholdContext(prior int32, threshold int) int {
	return int(min(abs32(prior)>>threshold, MaxThresholdContext))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func abs32(v int32) uint32 {
	if v < 0 {
		return uint32(-int64(v))
	}
	return uint32(v)
}
