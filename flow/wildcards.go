package flow

import "math/bits"

// Wildcards accumulates the header bits a classifier lookup examined. Masks
// starts all-zero (fully wildcarded); lookup steps un-wildcard bits by
// setting them.
type Wildcards struct {
	Masks Flow
}

// Clear resets all bits to wildcarded.
func (wc *Wildcards) Clear() { wc.Masks = Flow{} }

// FoldMinimask ORs every bit of a rule mask into the wildcards.
func (wc *Wildcards) FoldMinimask(mask *Miniflow) {
	wc.FoldMinimaskRange(mask, 0, NumWords)
}

// FoldMinimaskRange ORs the mask bits of words [start, end) into the
// wildcards.
func (wc *Wildcards) FoldMinimaskRange(mask *Miniflow, start, end int) {
	i := 0
	for b := mask.bits; b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		if w >= start && w < end {
			wc.Masks.words[w] |= mask.vals[i]
		}
		i++
	}
}

// SetFieldPrefix un-wildcards the leading nbits of a field.
func (wc *Wildcards) SetFieldPrefix(id FieldID, nbits int) {
	fd := &Fields[id]
	if nbits <= 0 {
		return
	}
	if nbits > fd.Bits {
		nbits = fd.Bits
	}
	if fd.Words == 2 {
		pm := prefixMask128(nbits)
		wc.Masks.words[fd.Word] |= pm[0]
		wc.Masks.words[fd.Word+1] |= pm[1]
		return
	}
	pm := fieldMask(fd.Bits) &^ fieldMask(fd.Bits-nbits)
	wc.Masks.words[fd.Word] |= pm << fd.Shift
}

// FieldMask returns the un-wildcarded bits of a single-word field.
func (wc *Wildcards) FieldMask(id FieldID) uint64 {
	return wc.Masks.Field(id)
}

// IsZero reports whether every bit is still wildcarded.
func (wc *Wildcards) IsZero() bool {
	return wc.Masks == Flow{}
}
