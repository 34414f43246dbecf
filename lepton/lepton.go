// Package lepton compresses the quantized coefficients of a JPEG image
// losslessly.
//
// Blocks are coded in MCU row order with an adaptive binary arithmetic
// coder whose probabilities are conditioned on the neighbouring blocks. The
// rows may be split between several workers; each worker owns a model and
// an output channel and the channels are multiplexed into one stream that
// ends with a 4 byte little endian trailer holding the stream size.
package lepton

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/egonelbre/exp-lepton-compression/probmodel"
)

var (
	// ErrLayout is returned for images with invalid dimensions.
	ErrLayout = errors.New("lepton: invalid image layout")
	// ErrTraversal is returned when the block traversal does not cover the
	// image exactly.
	ErrTraversal = errors.New("lepton: block traversal mismatch")
	// ErrMemoryBound is returned when decoding the stream would need more
	// memory than allowed.
	ErrMemoryBound = errors.New("lepton: memory bound exceeded")
	// ErrStreamTooLarge is returned when the stream size does not fit the
	// trailer.
	ErrStreamTooLarge = errors.New("lepton: stream too large")
	// ErrCorrupt is returned for streams that cannot be decoded.
	ErrCorrupt = errors.New("lepton: corrupt stream")
)

const (
	// MaxWorkers is the largest number of workers, one channel each.
	MaxWorkers = 16
	// DefaultMemoryLimit bounds the coefficient working set and the stream.
	DefaultMemoryLimit = 1 << 30

	// blockBytes is the size of a decoded block.
	blockBytes = 64 * 2
)

// Environment variables read by ConfigFromEnv.
const (
	EnvModelOut    = "LEPTON_COMPRESSION_MODEL_OUT"
	EnvModelIn     = "LEPTON_COMPRESSION_MODEL_IN"
	EnvWorkers     = "LEPTON_WORKERS"
	EnvMemoryLimit = "LEPTON_MEMORY_LIMIT"
)

// Config configures an Encoder or a Decoder. Both sides of a stream must
// use the same Workers and starting model.
type Config struct {
	// Workers is the number of row ranges coded in parallel. It is clamped
	// to [1, MaxWorkers] and to the number of MCU rows.
	Workers int
	// MemoryLimit bounds the coefficient working set plus the stream size
	// in bytes.
	MemoryLimit int64

	// Model is the starting model of every worker. A fresh model is used
	// when nil.
	Model *probmodel.Model
	// ModelOut is a path where the model of the first worker is written
	// after a successful encode.
	ModelOut string

	Logger *slog.Logger
}

// DefaultConfig returns a single worker configuration.
func DefaultConfig() Config {
	return Config{
		Workers:     1,
		MemoryLimit: DefaultMemoryLimit,
		Logger:      slog.Default(),
	}
}

// ConfigFromEnv returns DefaultConfig adjusted by the LEPTON_* environment
// variables. LEPTON_COMPRESSION_MODEL_IN is loaded right away.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%s=%q: expected a positive integer", EnvWorkers, v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv(EnvMemoryLimit); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%s=%q: expected a positive byte count", EnvMemoryLimit, v)
		}
		cfg.MemoryLimit = n
	}
	if path := os.Getenv(EnvModelIn); path != "" {
		m, err := probmodel.LoadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvModelIn, err)
		}
		cfg.Model = m
	}
	cfg.ModelOut = os.Getenv(EnvModelOut)

	return cfg, nil
}

func (cfg *Config) logger() *slog.Logger {
	if cfg.Logger == nil {
		return slog.Default()
	}
	return cfg.Logger
}

func (cfg *Config) memoryLimit() int64 {
	if cfg.MemoryLimit <= 0 {
		return DefaultMemoryLimit
	}
	return cfg.MemoryLimit
}

// workers returns the number of workers used for img.
func (cfg *Config) workers(img *Image) int {
	return max(1, min(cfg.Workers, MaxWorkers, img.MCURows))
}

// newModel returns the starting model of a worker.
func (cfg *Config) newModel() *probmodel.Model {
	if cfg.Model != nil {
		return cfg.Model.Clone()
	}
	return probmodel.New()
}

// workingSet returns the bytes needed to hold the coefficients of img and
// a stream of the given size.
func workingSet(img *Image, streamSize int) int64 {
	return img.blockCount()*blockBytes + int64(streamSize)
}
