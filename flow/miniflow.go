package flow

import "math/bits"

// Miniflow is the sparse form of a Flow: a presence bitmap over the layout
// words plus the values of the present words, in word order. Rule masks and
// rule values are stored this way; a rule's value miniflow shares its mask's
// presence map and its values are pre-masked.
type Miniflow struct {
	bits uint64
	vals []uint64
}

func wordRangeMask(start, end int) uint64 {
	var m uint64
	if end >= 64 {
		m = ^uint64(0)
	} else {
		m = 1<<uint(end) - 1
	}
	return m &^ (1<<uint(start) - 1)
}

// newMiniflow compresses the words of f selected by the presence map.
// Values are masked by sel when sel is non-nil.
func newMiniflow(f *Flow, present uint64, sel *Flow) *Miniflow {
	mf := &Miniflow{bits: present, vals: make([]uint64, bits.OnesCount64(present))}
	i := 0
	for b := present; b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		v := f.words[w]
		if sel != nil {
			v &= sel.words[w]
		}
		mf.vals[i] = v
		i++
	}
	return mf
}

// Bits returns the presence bitmap.
func (mf *Miniflow) Bits() uint64 { return mf.bits }

// Present reports whether word w has a value.
func (mf *Miniflow) Present(w int) bool { return mf.bits>>uint(w)&1 != 0 }

// Get returns the value of word w, or 0 when absent.
func (mf *Miniflow) Get(w int) uint64 {
	bit := uint64(1) << uint(w)
	if mf.bits&bit == 0 {
		return 0
	}
	return mf.vals[bits.OnesCount64(mf.bits&(bit-1))]
}

// IsZero reports whether the miniflow holds no bits at all.
func (mf *Miniflow) IsZero() bool { return mf.bits == 0 }

// Equal reports whether two miniflows hold the same words and values.
func (mf *Miniflow) Equal(o *Miniflow) bool {
	if mf.bits != o.bits {
		return false
	}
	for i, v := range mf.vals {
		if v != o.vals[i] {
			return false
		}
	}
	return true
}

// HasBitsInRange reports whether any word in [start, end) is present.
func (mf *Miniflow) HasBitsInRange(start, end int) bool {
	return mf.bits&wordRangeMask(start, end) != 0
}

// CoveredBy reports whether every bit set in mf is also set in o.
// For masks this is the subset test: mf selects no bits o wildcards.
func (mf *Miniflow) CoveredBy(o *Miniflow) bool {
	for b := mf.bits; b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		if mf.Get(w)&^o.Get(w) != 0 {
			return false
		}
	}
	return true
}

// Hash hashes the presence map and all values. Used to fingerprint masks.
func (mf *Miniflow) Hash(basis uint32) uint32 {
	h := hashAdd64(basis, mf.bits)
	for _, v := range mf.vals {
		h = hashAdd64(h, v)
	}
	return hashFinish(h, uint32(8*len(mf.vals)))
}

// Expand decompresses the miniflow into a full Flow.
func (mf *Miniflow) Expand() Flow {
	var f Flow
	i := 0
	for b := mf.bits; b != 0; b &= b - 1 {
		f.words[bits.TrailingZeros64(b)] = mf.vals[i]
		i++
	}
	return f
}

// Clone returns a deep copy.
func (mf *Miniflow) Clone() *Miniflow {
	vals := make([]uint64, len(mf.vals))
	copy(vals, mf.vals)
	return &Miniflow{bits: mf.bits, vals: vals}
}

// FieldPrefixLen returns the length of the contiguous leading-ones prefix a
// mask miniflow applies to a trie-capable field, or 0 when the field is
// unconstrained or the mask is not a prefix.
func (mf *Miniflow) FieldPrefixLen(id FieldID) int {
	fd := &Fields[id]
	var k [2]uint64
	if fd.Words == 2 {
		k[0] = mf.Get(fd.Word)
		k[1] = mf.Get(fd.Word + 1)
	} else {
		v := mf.Get(fd.Word) >> fd.Shift & fieldMask(fd.Bits)
		k[0] = v << uint(64-fd.Bits)
	}
	n := bits.LeadingZeros64(^k[0])
	if n == 64 && fd.Bits > 64 {
		n += bits.LeadingZeros64(^k[1])
	}
	if n > fd.Bits {
		n = fd.Bits
	}
	// Reject non-prefix masks: bits may not follow the leading-ones run.
	rest := [2]uint64{k[0], k[1]}
	if n < 64 {
		rest[0] &^= ^uint64(0) << uint(64-n)
	} else {
		rest[0] = 0
		rest[1] &^= ^uint64(0) << uint(128-n)
	}
	if rest[0] != 0 || rest[1] != 0 {
		return 0
	}
	return n
}

// HashFlowRange hashes the bits of f selected by mask within words
// [start, end). The unfinished running value is carried through basis so
// consecutive ranges chain; the finish length is the cumulative count of
// mask values consumed, keeping the result aligned with Minimatch.HashRange.
func HashFlowRange(mask *Miniflow, f *Flow, start, end int, basis *uint32) uint32 {
	h := *basis
	for b := mask.bits & wordRangeMask(start, end); b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		h = hashAdd64(h, f.words[w]&mask.Get(w))
	}
	*basis = h
	n := bits.OnesCount64(mask.bits & wordRangeMask(0, end))
	return hashFinish(h, uint32(8*n))
}

// EqualInMask reports whether a and b agree on every bit selected by mask.
func EqualInMask(a, b, mask *Miniflow) bool {
	for bm := mask.bits; bm != 0; bm &= bm - 1 {
		w := bits.TrailingZeros64(bm)
		m := mask.Get(w)
		if a.Get(w)&m != b.Get(w)&m {
			return false
		}
	}
	return true
}

// MiniflowMatchesFlow reports whether f agrees with the pre-masked values
// vals on every bit of mask. vals and mask must share one presence map, as
// in a Minimatch.
func MiniflowMatchesFlow(vals, mask *Miniflow, f *Flow) bool {
	i := 0
	for b := mask.bits; b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		if f.words[w]&mask.vals[i] != vals.vals[i] {
			return false
		}
		i++
	}
	return true
}

// PrefixKey returns a trie-capable field of the miniflow as a left-aligned
// big-endian bit string, as Flow.PrefixKey does for a full flow.
func (mf *Miniflow) PrefixKey(id FieldID) ([2]uint64, int) {
	fd := &Fields[id]
	if fd.Words == 2 {
		return [2]uint64{mf.Get(fd.Word), mf.Get(fd.Word + 1)}, fd.Bits
	}
	v := mf.Get(fd.Word) >> fd.Shift & fieldMask(fd.Bits)
	return [2]uint64{v << uint(64-fd.Bits)}, fd.Bits
}
