package blockctx

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrQuantTable is returned for quantization tables with zero entries.
var ErrQuantTable = errors.New("blockctx: invalid quantization table")

// QuantTable is a quantization table together with the values derived from
// it: per position noise thresholds and the weights of the edge predictor.
type QuantTable struct {
	values     [64]uint16
	thresholds [64]uint8
	// laneH[lane*8+i] weights row i of column lane, laneV[lane*8+i]
	// weights column i of row lane.
	laneH [64]int32
	laneV [64]int32
}

// NewQuantTable derives a QuantTable from quantizer values in raster order.
func NewQuantTable(values [64]uint16) (*QuantTable, error) {
	q := &QuantTable{values: values}
	for i, v := range values {
		if v == 0 {
			return nil, fmt.Errorf("%w: zero at position %d", ErrQuantTable, i)
		}
	}

	for i := range values {
		// Largest quantized magnitude at this position, rounded up.
		top := (uint32(freqMax[i]) + uint32(values[i]) - 1) / uint32(values[i])
		maxLen := bits.Len32(top)
		if maxLen > ResidualNoiseFloor {
			q.thresholds[i] = uint8(maxLen - ResidualNoiseFloor)
		}

		lane, k := i>>3, i&7
		q.laneH[i] = icos[k] * int32(values[k*8+lane])
		q.laneV[i] = icos[k] * int32(values[lane*8+k])
	}

	return q, nil
}

// Values returns the quantizer values in raster order.
func (q *QuantTable) Values() [64]uint16 { return q.values }

// At returns the quantizer of raster position i.
func (q *QuantTable) At(i int) int32 { return int32(q.values[i]) }

// NoiseThreshold returns the number of low residual bits of position i that
// are coded as noise instead of against the edge predictor.
func (q *QuantTable) NoiseThreshold(i int) int { return int(q.thresholds[i]) }

// NoiseThresholds returns the noise thresholds in raster order.
func (q *QuantTable) NoiseThresholds() [64]uint8 { return q.thresholds }
