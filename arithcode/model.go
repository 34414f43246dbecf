// Package arithcode implements binary arithmetic coding for data compression.
// Every decision is coded against an adaptive probability, which keeps the
// output size close to the entropy of the modelled source.
package arithcode

// Branch is the adaptive probability model of a single binary decision.
//
// The counts are packed into 16 bits: the high byte counts false (0) bits and
// the low byte counts true (1) bits. Both counts always stay within [1, 255].
// The zero value is not a valid Branch, use NewBranch.
type Branch struct {
	counts uint16
}

// initialCounts is the state of a branch that has never observed a bit.
const initialCounts = 0x0101

// NewBranch returns a branch with both counts set to 1.
func NewBranch() Branch {
	return Branch{counts: initialCounts}
}

// Reset returns the branch to its initial state.
func (b *Branch) Reset() {
	b.counts = initialCounts
}

// Probability returns the probability of the next bit being false,
// scaled to [0, 255].
func (b *Branch) Probability() uint8 {
	return probLookup[b.counts]
}

// Counts returns the false and true counts.
func (b *Branch) Counts() (falseCount, trueCount uint8) {
	return uint8(b.counts >> 8), uint8(b.counts)
}

// SetCounts overwrites both counts. Counts of zero are raised to 1.
func (b *Branch) SetCounts(falseCount, trueCount uint8) {
	b.counts = uint16(max(falseCount, 1))<<8 | uint16(max(trueCount, 1))
}

// Packed returns the raw packed representation of the counts.
func (b *Branch) Packed() uint16 {
	return b.counts
}

// SetPacked restores counts previously returned by Packed.
// It reports false when either count is zero.
func (b *Branch) SetPacked(counts uint16) bool {
	if counts>>8 == 0 || counts&0xFF == 0 {
		return false
	}
	b.counts = counts
	return true
}

// Observe records bit in the counts.
//
// When the incremented count would pass 255 both counts are halved, the
// surviving one rounded up, before incrementing. When the other count is
// still 1 the incremented count saturates at 255 instead.
func (b *Branch) Observe(bit bool) {
	// Rotate so that the updated count is always in the high byte.
	orig := b.counts
	if bit {
		orig = orig>>8 | orig<<8
	}

	sum := orig + 0x100
	if sum < orig {
		// The high byte wrapped, the low byte is the other count.
		mask := uint16(0x8100)
		if orig == 0xFF01 {
			mask = 0xFF00
		}
		sum = ((1 + sum&0xFF) >> 1) | mask
	}

	if bit {
		sum = sum>>8 | sum<<8
	}
	b.counts = sum
}

// probLookup maps packed counts to the probability of a false bit.
var probLookup [1 << 16]uint8

func init() {
	for i := 1; i < len(probLookup); i++ {
		f, t := i>>8, i&0xFF
		if f+t > 0 {
			probLookup[i] = uint8((f << 8) / (f + t))
		}
	}
	// Never observed a false bit.
	probLookup[0x01FF] = 0
}
