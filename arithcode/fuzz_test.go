package arithcode

import (
	"bytes"
	"testing"
)

func FuzzRoundtrip(f *testing.F) {
	f.Add([]byte{}, []byte{128})
	f.Add([]byte{0xFF, 0x00, 0x55}, []byte{0, 255, 1, 254})
	f.Add([]byte("carry"), []byte{125, 4, 169, 4, 169, 4, 171})

	f.Fuzz(func(t *testing.T, data, probs []byte) {
		if len(probs) == 0 {
			probs = []byte{128}
		}

		bitAt := func(i int) bool { return data[i/8]>>(i%8)&1 == 1 }
		n := len(data) * 8

		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		for i := 0; i < n; i++ {
			if err := enc.EncodeBit(bitAt(i), probs[i%len(probs)]); err != nil {
				t.Fatalf("EncodeBit failed: %v", err)
			}
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		dec, err := NewDecoder(&buf)
		if err != nil {
			t.Fatalf("NewDecoder failed: %v", err)
		}
		for i := 0; i < n; i++ {
			bit, err := dec.DecodeBit(probs[i%len(probs)])
			if err != nil {
				t.Fatalf("DecodeBit at %d failed: %v", i, err)
			}
			if bit != bitAt(i) {
				t.Fatalf("Mismatch at bit %d", i)
			}
		}
	})
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x07, 0x50, 0x00})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		dec, err := NewDecoder(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("NewDecoder failed: %v", err)
		}
		branch := NewBranch()
		// Arbitrary input must decode without panicking until it runs dry.
		for i := 0; i < 8*len(data)+64; i++ {
			if _, err := dec.Decode(&branch); err != nil {
				return
			}
		}
	})
}
