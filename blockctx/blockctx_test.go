package blockctx

import (
	"errors"
	"testing"
)

func flatQuant(t testing.TB, v uint16) *QuantTable {
	t.Helper()
	var values [64]uint16
	for i := range values {
		values[i] = v
	}
	q, err := NewQuantTable(values)
	if err != nil {
		t.Fatalf("NewQuantTable failed: %v", err)
	}
	return q
}

func TestUnzigzag49(t *testing.T) {
	var seen [64]bool
	for i, coord := range Unzigzag49 {
		if coord&7 == 0 || coord>>3 == 0 {
			t.Errorf("Scan position %d maps to edge coordinate %d", i, coord)
		}
		if seen[coord] {
			t.Errorf("Coordinate %d appears twice", coord)
		}
		seen[coord] = true
	}
}

func TestBlockValidate(t *testing.T) {
	tests := []struct {
		name  string
		coord int
		value int16
		ok    bool
	}{
		{"zero", 0, 0, true},
		{"max", 5, 1023, true},
		{"min", 63, -1024, true},
		{"above max", 5, 1024, false},
		{"below min", 10, -1025, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Block
			b[tt.coord] = tt.value
			err := b.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrCoefficientRange) {
				t.Errorf("Expected ErrCoefficientRange, got %v", err)
			}
		})
	}
}

func TestBlockCounts(t *testing.T) {
	var b Block
	b[0] = 7      // DC
	b[3] = 1      // row 0
	b[5] = -2     // row 0
	b[16] = 4     // column 0
	b[9] = 1      // (1, 1)
	b[8*6+3] = -3 // (6, 3)
	b[8*2+7] = 2  // (2, 7)

	if n := b.NonzeroCount7x7(); n != 3 {
		t.Errorf("Expected 3 nonzero 7x7 coefficients, got %d", n)
	}
	if n := b.NonzeroCountH(); n != 2 {
		t.Errorf("Expected 2 nonzero horizontal edge coefficients, got %d", n)
	}
	if n := b.NonzeroCountV(); n != 1 {
		t.Errorf("Expected 1 nonzero vertical edge coefficient, got %d", n)
	}
	if x, y := b.EOB(); x != 7 || y != 6 {
		t.Errorf("Expected EOB (7, 6), got (%d, %d)", x, y)
	}

	var zero Block
	if x, y := zero.EOB(); x != 0 || y != 0 {
		t.Errorf("Expected EOB (0, 0) for zero block, got (%d, %d)", x, y)
	}
	if !zero.IsZero() || b.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestNoiseThresholds(t *testing.T) {
	tests := []struct {
		name  string
		quant uint16
		coord int
		want  int
	}{
		{"unit dc", 1, 0, 4},    // 1024 needs 11 bits
		{"unit 838", 1, 13, 3},  // 838 needs 10 bits
		{"unit 1010", 1, 52, 3}, // 1010 needs 10 bits
		{"two 1024", 2, 0, 3},   // 512 needs 10 bits
		{"two 1020", 2, 4, 2},   // 510 needs 9 bits
		{"four 1024", 4, 0, 2},  // 256 needs 9 bits
		{"five 1024", 5, 0, 1},  // 205 needs 8 bits
		{"eight dc", 8, 0, 1},   // 128 needs 8 bits
		{"eight 931", 8, 1, 0},  // 117 needs 7 bits
		{"large", 255, 0, 0},    // 5 needs 3 bits
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := flatQuant(t, tt.quant)
			if got := q.NoiseThreshold(tt.coord); got != tt.want {
				t.Errorf("Expected threshold %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNewQuantTableRejectsZero(t *testing.T) {
	var values [64]uint16
	for i := range values {
		values[i] = 1
	}
	values[17] = 0

	if _, err := NewQuantTable(values); !errors.Is(err, ErrQuantTable) {
		t.Errorf("Expected ErrQuantTable, got %v", err)
	}
}

func blockWith7x7Count(n int) *Block {
	var b Block
	for i := 0; i < n; i++ {
		b[Unzigzag49[i]] = 1
	}
	return &b
}

func TestNonzeroBin7x7(t *testing.T) {
	tests := []struct {
		name  string
		left  *Block
		above *Block
		want  int
	}{
		{"none", nil, nil, 0},
		{"above only", nil, blockWith7x7Count(9), int(NonzeroToBin[5])},
		{"left only", blockWith7x7Count(3), nil, int(NonzeroToBin[2])},
		{"both", blockWith7x7Count(10), blockWith7x7Count(20), int(NonzeroToBin[8])},
		{"both full", blockWith7x7Count(49), blockWith7x7Count(49), 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Context{Here: &Block{}, Left: tt.left, Above: tt.above}
			if tt.left != nil && tt.above != nil {
				c.AboveLeft = &Block{}
			}
			if got := c.NonzeroBin7x7(); got != tt.want {
				t.Errorf("Expected bin %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPrior7x7(t *testing.T) {
	const coord = 19
	var left, above, aboveLeft Block
	left[coord] = 4
	above[coord] = -8
	aboveLeft[coord] = 2

	tests := []struct {
		name string
		ctx  Context
		want int
	}{
		{"none", Context{}, 0},
		{"left only", Context{Left: &left}, 4},
		{"above only", Context{Above: &above}, 8},
		{"both", Context{Left: &left, Above: &above, AboveLeft: &aboveLeft}, (12*13 + 6*2) >> 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.Prior7x7(coord); got != tt.want {
				t.Errorf("Expected prior %d, got %d", tt.want, got)
			}
		})
	}

	for _, tt := range []struct{ prior, want int }{{0, 0}, {1, 1}, {5, 3}, {1023, 10}, {5000, 10}} {
		if got := Prior7x7Bucket(tt.prior); got != tt.want {
			t.Errorf("Prior7x7Bucket(%d) = %d, want %d", tt.prior, got, tt.want)
		}
	}
}

func TestBestPrior(t *testing.T) {
	q := flatQuant(t, 1)

	t.Run("absent", func(t *testing.T) {
		c := &Context{Here: &Block{}, Quant: q}
		if p := c.BestPriorH(0); p != 0 {
			t.Errorf("Expected 0 without above, got %d", p)
		}
		if p := c.BestPriorV(0); p != 0 {
			t.Errorf("Expected 0 without left, got %d", p)
		}
	})

	t.Run("copies neighbour edge", func(t *testing.T) {
		var above, left Block
		above[3] = 17   // row 0, column 3
		left[3*8] = -11 // row 3, column 0
		c := &Context{Here: &Block{}, Above: &above, Left: &left, AboveLeft: &Block{}, Quant: q}

		if p := c.BestPriorH(2); p != 17 {
			t.Errorf("Expected horizontal prior 17, got %d", p)
		}
		if p := c.BestPriorV(2); p != -11 {
			t.Errorf("Expected vertical prior -11, got %d", p)
		}
	})

	t.Run("uses own column", func(t *testing.T) {
		var here Block
		here[1+8] = 2 // row 1, column 1
		c := &Context{Here: &here, Above: &Block{}, Quant: q}

		// -(11363 * 2) / 8192 truncates to -2.
		if p := c.BestPriorH(0); p != -2 {
			t.Errorf("Expected horizontal prior -2, got %d", p)
		}
	})

	t.Run("odd and even lanes", func(t *testing.T) {
		var above Block
		above[1+8] = 1   // odd row: subtracted
		above[1+8*2] = 1 // even row: added
		c := &Context{Here: &Block{}, Above: &above, Quant: q}

		// (-11363 + 10703) / 8192 truncates to 0, (-11363*3 + 10703) / 8192 to -2.
		if p := c.BestPriorH(0); p != 0 {
			t.Errorf("Expected horizontal prior 0, got %d", p)
		}
		above[1+8] = 3
		if p := c.BestPriorH(0); p != -2 {
			t.Errorf("Expected horizontal prior -2, got %d", p)
		}
	})
}

func TestEdgeContexts(t *testing.T) {
	bucketTests := []struct {
		prior int32
		want  int
	}{{0, 0}, {1, 1}, {-5, 3}, {1023, 10}, {5000, 11}, {-1 << 31, 11}}
	for _, tt := range bucketTests {
		if got := PriorBucket(tt.prior); got != tt.want {
			t.Errorf("PriorBucket(%d) = %d, want %d", tt.prior, got, tt.want)
		}
	}

	signTests := []struct {
		prior int32
		want  int
	}{{0, 0}, {3, 1}, {-3, 2}}
	for _, tt := range signTests {
		if got := SignContext(tt.prior); got != tt.want {
			t.Errorf("SignContext(%d) = %d, want %d", tt.prior, got, tt.want)
		}
	}

	thresholdTests := []struct {
		prior     int32
		threshold int
		want      int
	}{{300, 0, 255}, {300, 2, 75}, {-300, 2, 75}, {0, 3, 0}}
	for _, tt := range thresholdTests {
		if got := ThresholdContext(tt.prior, tt.threshold); got != tt.want {
			t.Errorf("ThresholdContext(%d, %d) = %d, want %d", tt.prior, tt.threshold, got, tt.want)
		}
	}
}
