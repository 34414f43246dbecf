// Package probmodel stores the adaptive probability counters used to code
// JPEG coefficient blocks.
//
// Every counter is addressed by a Key: the kind of decision being coded, the
// colour class of the component and up to four small integers whose meaning
// depends on the kind. The store is not safe for concurrent use; parallel
// encoders each work on their own Clone.
package probmodel

import (
	"fmt"

	"github.com/egonelbre/exp-lepton-compression/arithcode"
)

// Colors is the number of colour classes. Class 0 holds the first component
// (luma), class 1 every other component.
const Colors = 2

// Kind selects the family of decisions a counter belongs to.
type Kind uint8

const (
	// NonzeroCount7x7 codes the number of nonzero 7x7 coefficients.
	NonzeroCount7x7 Kind = iota
	// NonzeroCountH codes the number of nonzero coefficients on the top row.
	NonzeroCountH
	// NonzeroCountV codes the number of nonzero coefficients on the left column.
	NonzeroCountV
	// Exponent7x7 codes the unary bit length of a 7x7 coefficient.
	Exponent7x7
	// ExponentEdge codes the unary bit length of an edge coefficient.
	ExponentEdge
	// Sign codes coefficient signs.
	Sign
	// Threshold codes the high residual bits of edge coefficients.
	Threshold
	// Noise codes the low residual bits of AC coefficients.
	Noise
	// ExponentDC codes the unary bit length of the DC residual.
	ExponentDC
	// NoiseDC codes the residual bits of the DC residual.
	NoiseDC

	kindCount
)

var kindNames = [kindCount]string{
	NonzeroCount7x7: "NonzeroCount7x7",
	NonzeroCountH:   "NonzeroCountH",
	NonzeroCountV:   "NonzeroCountV",
	Exponent7x7:     "Exponent7x7",
	ExponentEdge:    "ExponentEdge",
	Sign:            "Sign",
	Threshold:       "Threshold",
	Noise:           "Noise",
	ExponentDC:      "ExponentDC",
	NoiseDC:         "NoiseDC",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Kinds returns every kind in table order.
func Kinds() []Kind {
	kinds := make([]Kind, kindCount)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// kindDims lists the size of each address component per kind.
var kindDims = [kindCount][]int{
	NonzeroCount7x7: {9, 6, 32},
	NonzeroCountH:   {8, 8, 3, 4},
	NonzeroCountV:   {8, 8, 3, 4},
	Exponent7x7:     {9, 49, 11, 12},
	ExponentEdge:    {8, 14, 12, 12},
	Sign:            {3, 12},
	Threshold:       {256, 12, 128},
	Noise:           {64, 9, 10},
	ExponentDC:      {12, 17, 12},
	NoiseDC:         {12, 10},
}

// Dims returns the size of each address component of k.
func (k Kind) Dims() []int {
	return append([]int(nil), kindDims[k]...)
}

// size returns the number of counters of k per colour class.
func (k Kind) size() int {
	n := 1
	for _, d := range kindDims[k] {
		n *= d
	}
	return n
}

// Key addresses a single counter.
type Key struct {
	Kind  Kind
	Color uint8
	Addr  [4]uint16
	// N is the number of used entries in Addr.
	N uint8
}

// NewKey creates a key. The number of address components must match the
// dimensions of kind.
func NewKey(kind Kind, color int, addr ...int) Key {
	k := Key{Kind: kind, Color: uint8(color), N: uint8(len(addr))}
	for i, a := range addr {
		k.Addr[i] = uint16(a)
	}
	return k
}

func (k Key) String() string {
	return fmt.Sprintf("%v[%d]%v", k.Kind, k.Color, k.Addr[:k.N])
}

// Model holds all probability counters for both colour classes.
type Model struct {
	tables [Colors][kindCount][]arithcode.Branch
}

// New returns a model with every counter in its initial state.
func New() *Model {
	m := &Model{}
	for color := range m.tables {
		for kind := range m.tables[color] {
			m.tables[color][kind] = make([]arithcode.Branch, Kind(kind).size())
		}
	}
	m.Reset()
	return m
}

// Reset returns every counter to its initial state.
func (m *Model) Reset() {
	for color := range m.tables {
		for _, table := range m.tables[color] {
			for i := range table {
				table[i].Reset()
			}
		}
	}
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	c := &Model{}
	for color := range m.tables {
		for kind, table := range m.tables[color] {
			c.tables[color][kind] = append([]arithcode.Branch(nil), table...)
		}
	}
	return c
}

// Equal reports whether both models hold identical counters.
func (m *Model) Equal(other *Model) bool {
	for color := range m.tables {
		for kind, table := range m.tables[color] {
			otherTable := other.tables[color][kind]
			for i := range table {
				if table[i] != otherTable[i] {
					return false
				}
			}
		}
	}
	return true
}

// Branch returns the counter addressed by key.
// It panics when key is outside the table, which is a programming error.
func (m *Model) Branch(key Key) *arithcode.Branch {
	if key.Kind >= kindCount || int(key.Color) >= Colors {
		panic(fmt.Sprintf("probmodel: invalid key %v", key))
	}
	dims := kindDims[key.Kind]
	if int(key.N) != len(dims) {
		panic(fmt.Sprintf("probmodel: key %v needs %d address components", key, len(dims)))
	}

	index := 0
	for i, d := range dims {
		a := int(key.Addr[i])
		if a >= d {
			panic(fmt.Sprintf("probmodel: key %v out of range", key))
		}
		index = index*d + a
	}
	return &m.tables[key.Color][key.Kind][index]
}

// ProbabilityOf returns the probability that the bit coded under key is false.
func (m *Model) ProbabilityOf(key Key) uint8 {
	return m.Branch(key).Probability()
}

// Observe records bit in the counter addressed by key.
func (m *Model) Observe(key Key, bit bool) {
	m.Branch(key).Observe(bit)
}

// optimizedMax is the largest count kept by Optimize.
const optimizedMax = 63

// Optimize scales down every counter whose larger side exceeds 63 while
// keeping its probability close to the original. A model saved after
// Optimize still adapts quickly when loaded as a starting point.
func (m *Model) Optimize() {
	for color := range m.tables {
		for _, table := range m.tables[color] {
			for i := range table {
				f, t := table[i].Counts()
				top := max(f, t)
				if top <= optimizedMax {
					continue
				}
				table[i].SetCounts(scaleCount(f, top), scaleCount(t, top))
			}
		}
	}
}

func scaleCount(c, top uint8) uint8 {
	return uint8((int(c)*optimizedMax + int(top)/2) / int(top))
}
