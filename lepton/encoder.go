package lepton

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/egonelbre/exp-lepton-compression/arithcode"
	"github.com/egonelbre/exp-lepton-compression/blockctx"
	"github.com/egonelbre/exp-lepton-compression/probmodel"
	"github.com/egonelbre/exp-lepton-compression/tokens"
)

// Encoder compresses images.
type Encoder struct {
	config Config
}

// NewEncoder creates an encoder.
func NewEncoder(config Config) *Encoder {
	return &Encoder{config: config}
}

// Encode compresses img and writes the stream to w. Nothing is written
// unless the whole image was coded.
func (e *Encoder) Encode(w io.Writer, img *Image) error {
	stream, model, err := e.encode(img)
	if err != nil {
		return err
	}
	if _, err := w.Write(stream); err != nil {
		return err
	}
	e.writeModel(model)
	return nil
}

// EncodeBytes compresses img and returns the stream.
func (e *Encoder) EncodeBytes(img *Image) ([]byte, error) {
	stream, model, err := e.encode(img)
	if err != nil {
		return nil, err
	}
	e.writeModel(model)
	return stream, nil
}

func (e *Encoder) encode(img *Image) ([]byte, *probmodel.Model, error) {
	quant, err := img.validateLayout(true)
	if err != nil {
		return nil, nil, err
	}

	count := e.config.workers(img)
	blocks := make([][]blockctx.Block, len(img.Components))
	edges := make([][]blockctx.Edges, len(img.Components))
	for i, c := range img.Components {
		blocks[i] = c.Blocks
		edges[i] = make([]blockctx.Edges, len(c.Blocks))
	}

	workers := make([]*worker, count)
	models := make([]*probmodel.Model, count)
	outputs := make([]bytes.Buffer, count)
	errs := make([]error, count)

	wg := new(sync.WaitGroup)
	for i, r := range split(img.MCURows, count) {
		models[i] = e.config.newModel()
		workers[i] = &worker{
			id:     i,
			first:  r[0],
			last:   r[1],
			img:    img,
			perMCU: img.rowsPerMCU(),
			quant:  quant,
			blocks: blocks,
			edges:  edges,
		}

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = e.runWorker(workers[n], models[n], &outputs[n])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("worker %d: %w", i, err)
		}
	}
	if err := checkCoverage(img, workers); err != nil {
		return nil, nil, err
	}

	channels := make([][]byte, count)
	size := 0
	for i := range outputs {
		channels[i] = outputs[i].Bytes()
		size += len(channels[i])
	}
	stream := mux(make([]byte, 0, size+size/256*3+trailerSize+3), channels)

	// The bound has to hold before the trailer finalizes the stream.
	if need, limit := workingSet(img, len(stream)), e.config.memoryLimit(); need > limit {
		return nil, nil, fmt.Errorf("%w: %d bytes needed, limit %d", ErrMemoryBound, need, limit)
	}
	stream, err = appendTrailer(stream)
	if err != nil {
		return nil, nil, err
	}
	return stream, models[0], nil
}

func (e *Encoder) runWorker(w *worker, model *probmodel.Model, out *bytes.Buffer) error {
	enc := arithcode.NewEncoder(out)
	w.seq = tokens.NewSequencer(tokens.NewEncoder(enc, model))
	if err := w.run(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	e.config.logger().Debug("worker finished",
		"worker", w.id, "mcu_rows", w.last-w.first, "bytes", out.Len())
	return nil
}

// writeModel saves model to the configured path. Failures are logged
// since the stream itself is complete.
func (e *Encoder) writeModel(model *probmodel.Model) {
	path := e.config.ModelOut
	if path == "" {
		return
	}

	log := e.config.logger()
	log.Info("writing compression model", "path", path)

	optimized := model.Clone()
	optimized.Optimize()
	if err := optimized.SaveFile(path); err != nil {
		log.Error("writing compression model failed", "path", path, "err", err)
	}
}
