package classifier

import (
	"math/bits"
	"sync/atomic"
)

// Subtable tags. Each subtable that matches the metadata field exactly gets a
// tag with two pseudo-randomly chosen bits out of the low 63; subtables that
// do not constrain metadata (or constrain it partially) get tagAll and are
// never pruned. Bit 63 is reserved: it is the tag a lookup assumes when the
// flow's metadata has no partition at all, and no subtable tag ever includes
// it, so such lookups skip every metadata-exact subtable deterministically.
const (
	tagAll          = ^uint64(0)
	tagArbitraryBit = 63
	tagArbitrary    = uint64(1) << tagArbitraryBit
)

// partition tracks which subtables hold rules matching one exact metadata
// value, as the union of those subtables' tags. Lookups read the union with
// a single load and prune subtables whose tag does not intersect it.
type partition struct {
	metadata uint64
	tags     atomic.Uint64

	// refs counts rules per tag bit so tag bits shared by colliding
	// subtables survive until the last rule is gone. Writer-only.
	refs [64]uint32
}

func newPartition(metadata uint64) *partition {
	return &partition{metadata: metadata}
}

// add accounts one rule living in a subtable with the given tag.
func (p *partition) add(tag uint64) {
	for t := tag; t != 0; t &= t - 1 {
		p.refs[bits.TrailingZeros64(t)]++
	}
	p.tags.Store(p.tags.Load() | tag)
}

// subtract drops one rule's reference on the tag bits and reports whether the
// partition became empty.
func (p *partition) subtract(tag uint64) bool {
	var union uint64
	for t := tag; t != 0; t &= t - 1 {
		p.refs[bits.TrailingZeros64(t)]--
	}
	for b, n := range p.refs {
		if n > 0 {
			union |= uint64(1) << uint(b)
		}
	}
	p.tags.Store(union)
	return union == 0
}
