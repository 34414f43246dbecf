package blockctx

import "math/bits"

// Pixels is the spatial reconstruction of a block without its DC term,
// indexed [row][col].
type Pixels [8][8]int16

// Edges are the pixel values a block leaves for its neighbours: the bottom
// row for the block below and the right column for the block to the right.
type Edges struct {
	Bottom [8]int16
	Right  [8]int16
}

// Inverse DCT constants, scaled by 2048*sqrt(2).
const (
	w1 = 2841
	w2 = 2676
	w3 = 2408
	w5 = 1609
	w6 = 1108
	w7 = 565

	w1pw7 = w1 + w7
	w1mw7 = w1 - w7
	w2pw6 = w2 + w6
	w2mw6 = w2 - w6
	w3pw5 = w3 + w5
	w3mw5 = w3 - w5

	r2 = 181 // 256/sqrt(2)
)

// ReconstructSansDC computes the integer inverse DCT of b with the DC
// coefficient treated as zero.
func ReconstructSansDC(b *Block, q *QuantTable) Pixels {
	var tmp [8][8]int32

	// Horizontal pass.
	for y := range 8 {
		row := b[y*8 : y*8+8]
		qr := q.values[y*8 : y*8+8]
		deq := func(i int) int32 { return int32(row[i]) * int32(qr[i]) }

		x0 := int32(128)
		if y != 0 {
			x0 += deq(0) << 11
		}
		x1 := deq(4) << 11
		x2 := deq(6)
		x3 := deq(2)
		x4 := deq(1)
		x5 := deq(7)
		x6 := deq(5)
		x7 := deq(3)

		// Stage 1.
		x8 := w7 * (x4 + x5)
		x4 = x8 + w1mw7*x4
		x5 = x8 - w1pw7*x5
		x8 = w3 * (x6 + x7)
		x6 = x8 - w3mw5*x6
		x7 = x8 - w3pw5*x7

		// Stage 2.
		x8 = x0 + x1
		x0 -= x1
		x1 = w6 * (x3 + x2)
		x2 = x1 - w2pw6*x2
		x3 = x1 + w2mw6*x3
		x1 = x4 + x6
		x4 -= x6
		x6 = x5 + x7
		x5 -= x7

		// Stage 3.
		x7 = x8 + x3
		x8 -= x3
		x3 = x0 + x2
		x0 -= x2
		x2 = (r2*(x4+x5) + 128) >> 8
		x4 = (r2*(x4-x5) + 128) >> 8

		// Stage 4.
		tmp[y] = [8]int32{
			(x7 + x1) >> 8,
			(x3 + x2) >> 8,
			(x0 + x4) >> 8,
			(x8 + x6) >> 8,
			(x8 - x6) >> 8,
			(x0 - x4) >> 8,
			(x3 - x2) >> 8,
			(x7 - x1) >> 8,
		}
	}

	// Vertical pass.
	var p Pixels
	for x := range 8 {
		y0 := (tmp[0][x] << 8) + 8192
		y1 := tmp[4][x] << 8
		y2 := tmp[6][x]
		y3 := tmp[2][x]
		y4 := tmp[1][x]
		y5 := tmp[7][x]
		y6 := tmp[5][x]
		y7 := tmp[3][x]

		// Stage 1.
		y8 := w7*(y4+y5) + 4
		y4 = (y8 + w1mw7*y4) >> 3
		y5 = (y8 - w1pw7*y5) >> 3
		y8 = w3*(y6+y7) + 4
		y6 = (y8 - w3mw5*y6) >> 3
		y7 = (y8 - w3pw5*y7) >> 3

		// Stage 2.
		y8 = y0 + y1
		y0 -= y1
		y1 = w6*(y3+y2) + 4
		y2 = (y1 - w2pw6*y2) >> 3
		y3 = (y1 + w2mw6*y3) >> 3
		y1 = y4 + y6
		y4 -= y6
		y6 = y5 + y7
		y5 -= y7

		// Stage 3.
		y7 = y8 + y3
		y8 -= y3
		y3 = y0 + y2
		y0 -= y2
		y2 = (r2*(y4+y5) + 128) >> 8
		y4 = (r2*(y4-y5) + 128) >> 8

		// Stage 4.
		p[0][x] = int16((y7 + y1) >> 11)
		p[1][x] = int16((y3 + y2) >> 11)
		p[2][x] = int16((y0 + y4) >> 11)
		p[3][x] = int16((y8 + y6) >> 11)
		p[4][x] = int16((y8 - y6) >> 11)
		p[5][x] = int16((y0 - y4) >> 11)
		p[6][x] = int16((y3 - y2) >> 11)
		p[7][x] = int16((y7 - y1) >> 11)
	}
	return p
}

// StoredEdges returns the edges a block with reconstruction p and DC
// coefficient dc leaves for its neighbours.
func StoredEdges(p *Pixels, dc int16, q *QuantTable) Edges {
	base := int32(dc)*q.At(0) + 128*8

	var e Edges
	for i := range 8 {
		delta := int32(p[7][i]) - int32(p[6][i])
		e.Bottom[i] = int16(base + int32(p[7][i]) + delta/2)

		delta = int32(p[i][7]) - int32(p[i][6])
		e.Right[i] = int16(base + int32(p[i][7]) + delta/2)
	}
	return e
}

// DCPrediction is the output of the DC context builder.
type DCPrediction struct {
	// Predicted is the predicted quantized DC coefficient.
	Predicted int16
	// Uncertainty is the spread of the neighbour estimates.
	Uncertainty int32
	// Uncertainty2 is the distance from the prediction to the closer of
	// the two directional estimates.
	Uncertainty2 int32
}

// PredictDC predicts the DC coefficient of c.Here from the pixel edges of
// its neighbours. p must be the reconstruction of c.Here without DC.
func (c *Context) PredictDC(p *Pixels) DCPrediction {
	left := c.Left != nil
	above := c.Above != nil
	if !left && !above {
		return DCPrediction{}
	}

	var estV, estH [8]int16
	if left {
		for i := range 8 {
			a := p[i][0] + 1024
			d := p[i][0] - p[i][1]
			b := c.LeftEdges.Right[i] - d/2
			estV[i] = b - a
		}
	}
	if above {
		for i := range 8 {
			a := p[0][i] + 1024
			d := p[0][i] - p[1][i]
			b := c.AboveEdges.Bottom[i] - d/2
			estH[i] = b - a
		}
	}

	minV, maxV, sumV := summarize(&estV)
	minH, maxH, sumH := summarize(&estH)

	var lo, hi int16
	var avg [2]int16
	switch {
	case left && above:
		lo, hi = min(minV, minH), max(maxV, maxH)
		avg = [2]int16{sumV, sumH}
	case left:
		lo, hi = minV, maxV
		avg = [2]int16{sumV, sumV}
	default:
		lo, hi = minH, maxH
		avg = [2]int16{sumH, sumH}
	}

	avgmed := int16((int32(avg[0]) + int32(avg[1])) >> 1)
	pred := DCPrediction{
		Uncertainty: (int32(hi) - int32(lo)) >> 3,
	}
	avg[0] -= avgmed
	avg[1] -= avgmed
	if abs(int(avg[0])) < abs(int(avg[1])) {
		pred.Uncertainty2 = int32(avg[0]) >> 3
	} else {
		pred.Uncertainty2 = int32(avg[1]) >> 3
	}

	scaled := int16(int32(avgmed) / c.Quant.At(0))
	pred.Predicted = int16((int32(scaled) + 4) >> 3)
	return pred
}

func summarize(est *[8]int16) (lo, hi, sum int16) {
	lo, hi = est[0], est[0]
	for _, v := range est {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += v
	}
	return lo, hi, sum
}

// UncertaintyBucket returns the bit length of |u| clamped to limit.
func UncertaintyBucket(u int32, limit int) int {
	return min(bits.Len32(abs32(u)), limit)
}

// dcRange is the number of distinct DC residuals.
const dcRange = 2*1024 + 1

// WrapDC returns the residual of dc against predicted folded into
// [-1024, 1024].
func WrapDC(dc, predicted int16) int16 {
	return fold(int32(dc) - int32(predicted))
}

// UnwrapDC inverts WrapDC.
func UnwrapDC(residual, predicted int16) int16 {
	return fold(int32(residual) + int32(predicted))
}

func fold(v int32) int16 {
	v = (v + 1024) % dcRange
	if v < 0 {
		v += dcRange
	}
	return int16(v - 1024)
}
