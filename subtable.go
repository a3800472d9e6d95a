package classifier

import (
	"math"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/tupleflow/classifier/flow"
	"github.com/tupleflow/classifier/internal/cmap"
)

const (
	// maxStages bounds the number of staged-lookup boundaries, giving at most
	// maxStages+1 stages per subtable.
	maxStages = 3

	// maxTries bounds the number of prefix tries a classifier maintains.
	maxTries = 3
)

// segment is one stage of a subtable: the half-open word range it hashes.
type segment struct {
	start, end int
}

// stageIndex is the hash membership index of one non-final stage. Readers
// probe the bitmap with a single load; the writer keeps refcounts per hash so
// shared 32-bit hashes survive until the last head using them is gone.
type stageIndex struct {
	bits atomic.Pointer[roaring.Bitmap]
	refs map[uint32]int
}

func newStageIndex() *stageIndex {
	si := &stageIndex{refs: make(map[uint32]int)}
	si.bits.Store(roaring.New())
	return si
}

func (si *stageIndex) contains(hash uint32) bool {
	return si.bits.Load().Contains(hash)
}

func (si *stageIndex) add(hash uint32) {
	si.refs[hash]++
	if si.refs[hash] == 1 {
		b := si.bits.Load().Clone()
		b.Add(hash)
		si.bits.Store(b)
	}
}

func (si *stageIndex) remove(hash uint32) {
	si.refs[hash]--
	if si.refs[hash] == 0 {
		delete(si.refs, hash)
		b := si.bits.Load().Clone()
		b.Remove(hash)
		si.bits.Store(b)
	}
}

// subtable holds all rules sharing one mask. Rules with identical masked
// values chain off a single head in the rules map; the head doubles as the
// unit indexed by the stage indices and the prefix tries.
type subtable struct {
	mask        *flow.Miniflow
	fingerprint uint32
	tag         uint64

	// segments are the stages in probe order; the last one is resolved in
	// the rules map rather than a stage index, so indices has one entry per
	// non-final segment.
	segments []segment
	indices  []*stageIndex

	rules *cmap.Map[*clsMatch]

	// list is a copy-on-write snapshot of the inserted rules for lockless
	// iteration, in insertion order.
	list atomic.Pointer[[]*Rule]

	// triePlen[i] is the prefix length this subtable's mask applies to the
	// field of classifier trie i, 0 when the trie does not apply. Stored
	// atomically because SetPrefixFields changes it under running lookups.
	triePlen [maxTries]atomic.Int32

	nRules      int
	maxPriority int
	maxCount    int
}

// makeSegments splits the mask at the classifier's boundaries, merging away
// stages the mask has no bits in. The final segment always extends to the end
// of the flow so the last stage covers the whole mask.
func makeSegments(boundaries []int, mask *flow.Miniflow) []segment {
	segs := make([]segment, 0, len(boundaries)+1)
	start := 0
	for _, b := range boundaries {
		if mask.HasBitsInRange(start, b) && mask.HasBitsInRange(b, flow.NumWords) {
			segs = append(segs, segment{start: start, end: b})
			start = b
		}
	}
	return append(segs, segment{start: start, end: flow.NumWords})
}

// maskTag computes the subtable's partition tag. Only masks matching the full
// metadata field participate in partition pruning; everything else gets
// tagAll and is probed unconditionally.
func maskTag(mask *flow.Miniflow) uint64 {
	if mask.Get(flow.Fields[flow.FieldMetadata].Word) != ^uint64(0) {
		return tagAll
	}
	fp := mask.Hash(0)
	h1 := flow.HashUint64(uint64(fp), 1) % (tagArbitraryBit)
	h2 := flow.HashUint64(uint64(fp), 2) % (tagArbitraryBit)
	return uint64(1)<<h1 | uint64(1)<<h2
}

func newSubtable(boundaries []int, mask *flow.Miniflow) *subtable {
	st := &subtable{
		mask:        mask.Clone(),
		fingerprint: mask.Hash(0),
		tag:         maskTag(mask),
		segments:    makeSegments(boundaries, mask),
		rules:       cmap.New[*clsMatch](),
		maxPriority: math.MinInt,
	}
	for i := 0; i < len(st.segments)-1; i++ {
		st.indices = append(st.indices, newStageIndex())
	}
	empty := []*Rule{}
	st.list.Store(&empty)
	return st
}

// hashStages computes the per-stage hashes of a rule's masked values. The
// non-final stage hashes land in ihash, the final stage hash is returned.
func (st *subtable) hashStages(mm *flow.Minimatch, ihash []uint32) uint32 {
	var basis uint32
	var h uint32
	for i, seg := range st.segments {
		h = mm.HashRange(seg.start, seg.end, &basis)
		if i < len(st.indices) {
			ihash[i] = h
		}
	}
	return h
}

// findHead returns the chain head with the given masked values, if any.
func (st *subtable) findHead(hash uint32, fl *flow.Miniflow) *clsMatch {
	var head *clsMatch
	st.rules.ForEachWithHash(hash, func(m *clsMatch) bool {
		if m.fl.Equal(fl) {
			head = m
			return false
		}
		return true
	})
	return head
}

func (st *subtable) loadRules() []*Rule { return *st.list.Load() }

func (st *subtable) appendRule(r *Rule) {
	old := *st.list.Load()
	nl := make([]*Rule, len(old), len(old)+1)
	copy(nl, old)
	nl = append(nl, r)
	st.list.Store(&nl)
}

func (st *subtable) removeRuleFromList(r *Rule) {
	old := *st.list.Load()
	nl := make([]*Rule, 0, len(old))
	for _, o := range old {
		if o != r {
			nl = append(nl, o)
		}
	}
	st.list.Store(&nl)
}

func (st *subtable) replaceRuleInList(old, repl *Rule) {
	prev := *st.list.Load()
	nl := make([]*Rule, len(prev))
	copy(nl, prev)
	for i, o := range nl {
		if o == old {
			nl[i] = repl
			break
		}
	}
	st.list.Store(&nl)
}

// noteAdd tracks the max priority of the subtable's rules; reports whether
// the max changed.
func (st *subtable) noteAdd(priority int) bool {
	st.nRules++
	switch {
	case priority > st.maxPriority:
		st.maxPriority = priority
		st.maxCount = 1
		return true
	case priority == st.maxPriority:
		st.maxCount++
	}
	return false
}

// noteRemove is the inverse of noteAdd; when the last rule at the max
// priority goes away it rescans the remaining rules for the new max.
func (st *subtable) noteRemove(priority int) bool {
	st.nRules--
	if priority != st.maxPriority {
		return false
	}
	st.maxCount--
	if st.maxCount > 0 || st.nRules == 0 {
		return false
	}
	st.maxPriority = math.MinInt
	st.maxCount = 0
	st.rules.Range(func(_ uint32, head *clsMatch) bool {
		for m := head; m != nil; m = m.next.Load() {
			if m.priority > st.maxPriority {
				st.maxPriority = m.priority
				st.maxCount = 1
			} else if m.priority == st.maxPriority {
				st.maxCount++
			}
		}
		return true
	})
	return true
}
