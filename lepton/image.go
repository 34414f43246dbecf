package lepton

import (
	"fmt"

	"github.com/egonelbre/exp-lepton-compression/blockctx"
)

// MaxComponents is the largest number of components in an image.
const MaxComponents = 4

// Component is a plane of quantized coefficient blocks.
type Component struct {
	// BlockWidth and BlockHeight are the size of the plane in blocks.
	BlockWidth  int
	BlockHeight int
	// Blocks holds BlockWidth*BlockHeight blocks in raster order.
	Blocks []blockctx.Block
	// Quant is the quantization table in raster order.
	Quant [64]uint16
}

// Image is the coefficient data of a JPEG image.
type Image struct {
	// MCURows is the number of MCU rows. Every component contributes
	// BlockHeight/MCURows block rows to each MCU row.
	MCURows    int
	Components []Component
}

// Layout returns a copy of img without coefficient data, suitable for
// Decoder.Decode.
func (img *Image) Layout() *Image {
	layout := &Image{MCURows: img.MCURows, Components: make([]Component, len(img.Components))}
	for i, c := range img.Components {
		layout.Components[i] = Component{BlockWidth: c.BlockWidth, BlockHeight: c.BlockHeight, Quant: c.Quant}
	}
	return layout
}

// validateLayout checks the dimensions of img and derives the quantization
// tables. Coefficients are only checked when blocks is set.
func (img *Image) validateLayout(blocks bool) ([]*blockctx.QuantTable, error) {
	if img.MCURows <= 0 {
		return nil, fmt.Errorf("%w: %d MCU rows", ErrLayout, img.MCURows)
	}
	if n := len(img.Components); n == 0 || n > MaxComponents {
		return nil, fmt.Errorf("%w: %d components", ErrLayout, n)
	}

	quant := make([]*blockctx.QuantTable, len(img.Components))
	for i := range img.Components {
		c := &img.Components[i]
		if c.BlockWidth <= 0 || c.BlockHeight <= 0 {
			return nil, fmt.Errorf("%w: component %d is %dx%d blocks", ErrLayout, i, c.BlockWidth, c.BlockHeight)
		}
		q, err := blockctx.NewQuantTable(c.Quant)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		quant[i] = q

		if !blocks {
			continue
		}
		if len(c.Blocks) != c.BlockWidth*c.BlockHeight {
			return nil, fmt.Errorf("%w: component %d has %d blocks, expected %d", ErrLayout, i, len(c.Blocks), c.BlockWidth*c.BlockHeight)
		}
		for k := range c.Blocks {
			if err := c.Blocks[k].Validate(); err != nil {
				return nil, fmt.Errorf("component %d block %d: %w", i, k, err)
			}
		}
	}
	return quant, nil
}

// blockCount returns the number of blocks over all components.
func (img *Image) blockCount() int64 {
	var n int64
	for _, c := range img.Components {
		n += int64(c.BlockWidth) * int64(c.BlockHeight)
	}
	return n
}

// colorClass returns the model colour class of component i.
func colorClass(i int) int {
	if i == 0 {
		return 0
	}
	return 1
}

// rowSpec identifies the block row visited at a traversal index.
type rowSpec struct {
	mcuRow    int
	component int
	// row is the block row inside the component.
	row  int
	done bool
}

// rowsPerMCU returns the number of block rows every component contributes
// to one MCU row.
func (img *Image) rowsPerMCU() []int {
	rows := make([]int, len(img.Components))
	for i, c := range img.Components {
		rows[i] = c.BlockHeight / img.MCURows
	}
	return rows
}

// rowSpecAt maps a traversal index to a block row. Inside an MCU row the
// components are visited in ascending order, each for its share of rows.
func rowSpecAt(index int, mcuRows int, perMCU []int) rowSpec {
	total := 0
	for _, n := range perMCU {
		total += n
	}
	if total == 0 {
		return rowSpec{done: true}
	}

	spec := rowSpec{mcuRow: index / total}
	if spec.mcuRow >= mcuRows {
		spec.done = true
		return spec
	}

	place := index % total
	for i, n := range perMCU {
		if place < n {
			spec.component = i
			spec.row = spec.mcuRow*n + place
			return spec
		}
		place -= n
	}
	panic("unreachable")
}
