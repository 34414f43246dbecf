package lepton

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/egonelbre/exp-lepton-compression/arithcode"
	"github.com/egonelbre/exp-lepton-compression/blockctx"
	"github.com/egonelbre/exp-lepton-compression/tokens"
)

// Decoder restores images compressed by an Encoder with the same Workers
// and starting model.
type Decoder struct {
	config Config
}

// NewDecoder creates a decoder.
func NewDecoder(config Config) *Decoder {
	return &Decoder{config: config}
}

// Decode decompresses data into an image with the dimensions and
// quantization tables of layout. Blocks of layout are ignored.
func (d *Decoder) Decode(data []byte, layout *Image) (*Image, error) {
	quant, err := layout.validateLayout(false)
	if err != nil {
		return nil, err
	}
	if need, limit := workingSet(layout, len(data)), d.config.memoryLimit(); need > limit {
		return nil, fmt.Errorf("%w: %d bytes needed, limit %d", ErrMemoryBound, need, limit)
	}

	body, err := splitTrailer(data)
	if err != nil {
		return nil, err
	}
	count := d.config.workers(layout)
	channels, err := demux(body, count)
	if err != nil {
		return nil, err
	}

	img := layout.Layout()
	blocks := make([][]blockctx.Block, len(img.Components))
	edges := make([][]blockctx.Edges, len(img.Components))
	for i := range img.Components {
		c := &img.Components[i]
		c.Blocks = make([]blockctx.Block, c.BlockWidth*c.BlockHeight)
		blocks[i] = c.Blocks
		edges[i] = make([]blockctx.Edges, len(c.Blocks))
	}

	workers := make([]*worker, count)
	errs := make([]error, count)

	wg := new(sync.WaitGroup)
	for i, r := range split(img.MCURows, count) {
		workers[i] = &worker{
			id:     i,
			first:  r[0],
			last:   r[1],
			img:    img,
			perMCU: img.rowsPerMCU(),
			quant:  quant,
			blocks: blocks,
			edges:  edges,
			decode: true,
		}

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = d.runWorker(workers[n], channels[n])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
	}
	if err := checkCoverage(img, workers); err != nil {
		return nil, err
	}
	return img, nil
}

func (d *Decoder) runWorker(w *worker, channel []byte) error {
	dec, err := arithcode.NewDecoder(bytes.NewReader(channel))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	w.seq = tokens.NewSequencer(tokens.NewDecoder(dec, d.config.newModel()))
	if err := w.run(); err != nil {
		if errors.Is(err, tokens.ErrCorrupt) || errors.Is(err, arithcode.ErrOverread) {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return err
	}
	d.config.logger().Debug("worker finished",
		"worker", w.id, "mcu_rows", w.last-w.first, "bytes", len(channel))
	return nil
}
