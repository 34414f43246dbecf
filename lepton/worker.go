package lepton

import (
	"fmt"

	"github.com/egonelbre/exp-lepton-compression/blockctx"
	"github.com/egonelbre/exp-lepton-compression/tokens"
)

// worker codes the MCU rows [first, last) of an image.
type worker struct {
	id          int
	first, last int

	img    *Image
	perMCU []int
	quant  []*blockctx.QuantTable
	// blocks and edges are shared between workers, each worker only
	// touches the rows of its own range.
	blocks [][]blockctx.Block
	edges  [][]blockctx.Edges
	decode bool

	seq *tokens.Sequencer
	// rows counts the block rows coded per component.
	rows []int
}

// split assigns MCU rows to n workers.
func split(mcuRows, n int) [][2]int {
	ranges := make([][2]int, n)
	for i := range ranges {
		ranges[i] = [2]int{i * mcuRows / n, (i + 1) * mcuRows / n}
	}
	return ranges
}

func (w *worker) run() error {
	total := 0
	for _, n := range w.perMCU {
		total += n
	}
	w.rows = make([]int, len(w.img.Components))

	top := make([]bool, len(w.img.Components))
	for i := range top {
		top[i] = true
	}

	index := w.first * total
	for {
		spec := rowSpecAt(index, w.img.MCURows, w.perMCU)
		if spec.done || spec.mcuRow >= w.last {
			break
		}
		index++

		if err := w.codeRow(spec, top[spec.component]); err != nil {
			return err
		}
		top[spec.component] = false
		w.rows[spec.component]++
	}

	// The next row must start the range of the following worker.
	next := rowSpecAt(index, w.img.MCURows, w.perMCU)
	if w.last == w.img.MCURows {
		if !next.done {
			return fmt.Errorf("%w: worker %d stopped at MCU row %d", ErrTraversal, w.id, next.mcuRow)
		}
	} else if next.done || next.mcuRow != w.last || next.component != 0 {
		return fmt.Errorf("%w: worker %d stopped before MCU row %d", ErrTraversal, w.id, w.last)
	}
	return nil
}

// codeRow codes a row of blocks. The first row of every component in a
// worker is coded without above neighbours so that ranges are independent.
func (w *worker) codeRow(spec rowSpec, top bool) error {
	comp := &w.img.Components[spec.component]
	width := comp.BlockWidth
	blocks := w.blocks[spec.component]
	edges := w.edges[spec.component]
	color := colorClass(spec.component)

	for x := range width {
		i := spec.row*width + x

		here := blocks[i]
		c := blockctx.Context{Here: &here, Quant: w.quant[spec.component]}
		if x > 0 {
			c.Left, c.LeftEdges = &blocks[i-1], &edges[i-1]
		}
		if !top {
			c.Above, c.AboveEdges = &blocks[i-width], &edges[i-width]
			if x > 0 {
				c.AboveLeft = &blocks[i-width-1]
			}
		}

		e, err := w.seq.Block(&c, color)
		if err != nil {
			return fmt.Errorf("component %d block %d: %w", spec.component, i, err)
		}
		if w.decode {
			if err := here.Validate(); err != nil {
				return fmt.Errorf("%w: component %d block %d: %w", ErrCorrupt, spec.component, i, err)
			}
			blocks[i] = here
		}
		edges[i] = e
	}
	return nil
}

// checkCoverage verifies that the workers visited every block row.
func checkCoverage(img *Image, workers []*worker) error {
	for i, c := range img.Components {
		rows := 0
		for _, w := range workers {
			rows += w.rows[i]
		}
		if rows != c.BlockHeight {
			return fmt.Errorf("%w: component %d has %d block rows, traversal visited %d", ErrTraversal, i, c.BlockHeight, rows)
		}
	}
	return nil
}
