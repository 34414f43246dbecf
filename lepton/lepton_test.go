package lepton

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/egonelbre/exp-lepton-compression/blockctx"
	"github.com/egonelbre/exp-lepton-compression/probmodel"
)

func flatQuant(v uint16) [64]uint16 {
	var q [64]uint16
	for i := range q {
		q[i] = v
	}
	return q
}

// testImage creates a 4:2:0 image with mcuRows MCU rows and random
// coefficients.
func testImage(seed int64, mcuRows, mcuCols int) *Image {
	rng := rand.New(rand.NewSource(seed))
	img := &Image{MCURows: mcuRows}
	for i := range 3 {
		scale := 1
		if i == 0 {
			scale = 2
		}
		c := Component{
			BlockWidth:  mcuCols * scale,
			BlockHeight: mcuRows * scale,
			Quant:       flatQuant(uint16(2 + i*3)),
		}
		c.Quant[0] = 8
		c.Blocks = make([]blockctx.Block, c.BlockWidth*c.BlockHeight)
		for k := range c.Blocks {
			b := &c.Blocks[k]
			b[0] = int16(rng.Intn(200) - 100)
			for n := rng.Intn(12); n > 0; n-- {
				b[1+rng.Intn(63)] = int16(rng.Intn(31) - 15)
			}
			if rng.Intn(50) == 0 {
				b[1+rng.Intn(63)] = blockctx.MinCoefficient
			}
		}
		img.Components = append(img.Components, c)
	}
	return img
}

func quietConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return cfg
}

func TestEncodeDCOnly(t *testing.T) {
	img := &Image{
		MCURows: 1,
		Components: []Component{{
			BlockWidth:  1,
			BlockHeight: 1,
			Blocks:      make([]blockctx.Block, 1),
			Quant:       flatQuant(8),
		}},
	}
	img.Components[0].Blocks[0][0] = 5

	var buf bytes.Buffer
	if err := NewEncoder(quietConfig(1)).Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x00, 0x07, 0x50, 0x00, 0x08, 0x00, 0x00, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Expected % x, got % x", want, buf.Bytes())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	img := testImage(1, 6, 5)
	for _, workers := range []int{1, 3} {
		enc := NewEncoder(quietConfig(workers))
		a, err := enc.EncodeBytes(img)
		if err != nil {
			t.Fatal(err)
		}
		b, err := enc.EncodeBytes(img)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("Workers %d: expected identical streams", workers)
		}
	}
}

func TestRoundtrip(t *testing.T) {
	img := testImage(2, 7, 6)
	for _, workers := range []int{1, 2, 3, 7, 20} {
		cfg := quietConfig(workers)
		data, err := NewEncoder(cfg).EncodeBytes(img)
		if err != nil {
			t.Fatalf("Workers %d: encode failed: %v", workers, err)
		}

		got, err := NewDecoder(cfg).Decode(data, img.Layout())
		if err != nil {
			t.Fatalf("Workers %d: decode failed: %v", workers, err)
		}
		for i := range img.Components {
			want := img.Components[i].Blocks
			have := got.Components[i].Blocks
			if len(want) != len(have) {
				t.Fatalf("Workers %d: component %d has %d blocks, expected %d", workers, i, len(have), len(want))
			}
			for k := range want {
				if want[k] != have[k] {
					t.Fatalf("Workers %d: component %d block %d differs", workers, i, k)
				}
			}
		}
	}
}

func TestRoundtripSingleComponent(t *testing.T) {
	img := testImage(3, 4, 3)
	img.Components = img.Components[:1]
	img.MCURows = 8

	cfg := quietConfig(2)
	data, err := NewEncoder(cfg).EncodeBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewDecoder(cfg).Decode(data, img.Layout())
	if err != nil {
		t.Fatal(err)
	}
	for k, b := range img.Components[0].Blocks {
		if got.Components[0].Blocks[k] != b {
			t.Fatalf("Block %d differs", k)
		}
	}
}

func TestTrailer(t *testing.T) {
	img := testImage(4, 3, 3)
	data, err := NewEncoder(quietConfig(2)).EncodeBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	size := int(data[len(data)-4]) | int(data[len(data)-3])<<8 | int(data[len(data)-2])<<16 | int(data[len(data)-1])<<24
	if size != len(data) {
		t.Errorf("Expected trailer %d, got %d", len(data), size)
	}
}

func TestTraversalMismatch(t *testing.T) {
	img := testImage(5, 2, 2)
	// Three block rows cannot be split evenly into two MCU rows.
	c := &img.Components[1]
	c.BlockHeight = 3
	c.Blocks = make([]blockctx.Block, c.BlockWidth*c.BlockHeight)

	var buf bytes.Buffer
	err := NewEncoder(quietConfig(1)).Encode(&buf, img)
	if !errors.Is(err, ErrTraversal) {
		t.Fatalf("Expected ErrTraversal, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %d bytes", buf.Len())
	}
}

func TestMemoryBound(t *testing.T) {
	img := testImage(6, 2, 2)
	cfg := quietConfig(1)
	cfg.MemoryLimit = img.blockCount() * blockBytes

	var buf bytes.Buffer
	err := NewEncoder(cfg).Encode(&buf, img)
	if !errors.Is(err, ErrMemoryBound) {
		t.Fatalf("Expected ErrMemoryBound, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %d bytes", buf.Len())
	}

	data, err := NewEncoder(quietConfig(1)).EncodeBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewDecoder(cfg).Decode(data, img.Layout()); !errors.Is(err, ErrMemoryBound) {
		t.Errorf("Expected ErrMemoryBound from decoder, got %v", err)
	}
}

func TestInvalidImage(t *testing.T) {
	tests := []struct {
		name   string
		modify func(img *Image)
		want   error
	}{
		{"no mcu rows", func(img *Image) { img.MCURows = 0 }, ErrLayout},
		{"no components", func(img *Image) { img.Components = nil }, ErrLayout},
		{"missing blocks", func(img *Image) { img.Components[2].Blocks = img.Components[2].Blocks[1:] }, ErrLayout},
		{"zero quantizer", func(img *Image) { img.Components[0].Quant[5] = 0 }, blockctx.ErrQuantTable},
		{"coefficient range", func(img *Image) { img.Components[1].Blocks[3][7] = 1024 }, blockctx.ErrCoefficientRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testImage(7, 2, 2)
			tt.modify(img)
			if _, err := NewEncoder(quietConfig(1)).EncodeBytes(img); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	img := testImage(8, 3, 2)
	cfg := quietConfig(2)
	data, err := NewEncoder(cfg).EncodeBytes(img)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)-1]},
		{"bad trailer", append(append([]byte(nil), data[:len(data)-4]...), 0, 0, 0, 0)},
		{"bad channel", append([]byte{0x0F, 0x00, 0x00, 0x00}, 0x08, 0x00, 0x00, 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDecoder(cfg).Decode(tt.data, img.Layout()); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestModelOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.pb.zst")
	var logs bytes.Buffer

	cfg := quietConfig(2)
	cfg.ModelOut = path
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	img := testImage(9, 4, 4)
	if _, err := NewEncoder(cfg).EncodeBytes(img); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "writing compression model") {
		t.Errorf("Expected a log record for the model, got %q", logs.String())
	}

	model, err := probmodel.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if model.Equal(probmodel.New()) {
		t.Error("Expected the written model to differ from a fresh model")
	}

	// A stream coded from the trained model decodes with the same model.
	seeded := quietConfig(2)
	seeded.Model = model
	data, err := NewEncoder(seeded).EncodeBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := NewEncoder(quietConfig(2)).EncodeBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) >= len(fresh) {
		t.Errorf("Expected the trained model to compress better: %d >= %d", len(data), len(fresh))
	}
	got, err := NewDecoder(seeded).Decode(data, img.Layout())
	if err != nil {
		t.Fatal(err)
	}
	for k, b := range img.Components[0].Blocks {
		if got.Components[0].Blocks[k] != b {
			t.Fatalf("Block %d differs", k)
		}
	}
}

func TestModelOutFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	cfg := quietConfig(1)
	cfg.ModelOut = filepath.Join(t.TempDir(), "missing", "model.pb")
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	var buf bytes.Buffer
	if err := NewEncoder(cfg).Encode(&buf, testImage(10, 2, 2)); err != nil {
		t.Fatalf("Expected the encode to succeed, got %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Expected output")
	}
	if !strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("Expected an error record, got %q", logs.String())
	}
}

func TestConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.pb")
	if err := probmodel.New().SaveFile(path); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvMemoryLimit, "1048576")
	t.Setenv(EnvModelIn, path)
	t.Setenv(EnvModelOut, "out.pb.xz")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 4 || cfg.MemoryLimit != 1<<20 || cfg.ModelOut != "out.pb.xz" || cfg.Model == nil {
		t.Errorf("Unexpected config %+v", cfg)
	}

	t.Setenv(EnvWorkers, "zero")
	if _, err := ConfigFromEnv(); err == nil {
		t.Error("Expected an error for a malformed worker count")
	}
	t.Setenv(EnvWorkers, "")

	t.Setenv(EnvModelIn, filepath.Join(t.TempDir(), "missing.pb"))
	if _, err := ConfigFromEnv(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestRowSpecAt(t *testing.T) {
	perMCU := []int{2, 1, 1}
	want := []rowSpec{
		{mcuRow: 0, component: 0, row: 0},
		{mcuRow: 0, component: 0, row: 1},
		{mcuRow: 0, component: 1, row: 0},
		{mcuRow: 0, component: 2, row: 0},
		{mcuRow: 1, component: 0, row: 2},
		{mcuRow: 1, component: 0, row: 3},
		{mcuRow: 1, component: 1, row: 1},
		{mcuRow: 1, component: 2, row: 1},
	}
	for i, w := range want {
		if got := rowSpecAt(i, 2, perMCU); got != w {
			t.Errorf("Index %d: expected %+v, got %+v", i, w, got)
		}
	}
	if got := rowSpecAt(len(want), 2, perMCU); !got.done {
		t.Errorf("Expected done after the last row, got %+v", got)
	}
	if got := rowSpecAt(0, 2, []int{0, 0}); !got.done {
		t.Errorf("Expected done without rows, got %+v", got)
	}
}

func TestSplit(t *testing.T) {
	ranges := split(10, 3)
	want := [][2]int{{0, 3}, {3, 6}, {6, 10}}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("Range %d: expected %v, got %v", i, want[i], ranges[i])
		}
	}
}
