// Package blockctx derives the coding contexts of a JPEG coefficient block
// from the block itself and its already coded left and above neighbours.
//
// A block is split into the DC coefficient, the seven horizontal edge
// coefficients of the first row, the seven vertical edge coefficients of the
// first column and the remaining 49 "7x7" coefficients. Each group has its
// own context builder.
package blockctx

import (
	"errors"
	"fmt"
)

// ErrCoefficientRange is returned for coefficients outside the 11 bit
// signed range of baseline JPEG.
var ErrCoefficientRange = errors.New("blockctx: coefficient out of range")

const (
	// MaxCoefficient is the largest coefficient magnitude that can be coded.
	MaxCoefficient = 1023
	// MinCoefficient is the smallest coefficient that can be coded.
	MinCoefficient = -1024
)

// Block holds the 64 quantized coefficients of an 8x8 block in raster
// order: index row*8 + col, the DC coefficient at index 0.
type Block [64]int16

// At returns the coefficient at row, col.
func (b *Block) At(row, col int) int16 { return b[row*8+col] }

// DC returns the DC coefficient.
func (b *Block) DC() int16 { return b[0] }

// Validate checks that every coefficient fits the coded range.
func (b *Block) Validate() error {
	for i, c := range b {
		if c < MinCoefficient || c > MaxCoefficient {
			return fmt.Errorf("%w: %d at position %d", ErrCoefficientRange, c, i)
		}
	}
	return nil
}

// NonzeroCount7x7 counts the nonzero coefficients outside the first row and
// column.
func (b *Block) NonzeroCount7x7() int {
	n := 0
	for _, coord := range Unzigzag49 {
		if b[coord] != 0 {
			n++
		}
	}
	return n
}

// NonzeroCountH counts the nonzero coefficients of the first row, DC excluded.
func (b *Block) NonzeroCountH() int {
	n := 0
	for col := 1; col < 8; col++ {
		if b[col] != 0 {
			n++
		}
	}
	return n
}

// NonzeroCountV counts the nonzero coefficients of the first column, DC excluded.
func (b *Block) NonzeroCountV() int {
	n := 0
	for row := 1; row < 8; row++ {
		if b[row*8] != 0 {
			n++
		}
	}
	return n
}

// EOB returns the largest column and row index holding a nonzero 7x7
// coefficient. Both are 0 when the 7x7 group is empty.
func (b *Block) EOB() (x, y int) {
	for _, coord := range Unzigzag49 {
		if b[coord] == 0 {
			continue
		}
		x = max(x, int(coord)&7)
		y = max(y, int(coord)>>3)
	}
	return x, y
}

// IsZero reports whether every coefficient is zero.
func (b *Block) IsZero() bool {
	return *b == Block{}
}
