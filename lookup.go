package classifier

import (
	"math"
	"time"

	"github.com/tupleflow/classifier/flow"
	"github.com/tupleflow/classifier/internal/trie"
)

// trieCtx memoizes one prefix trie's verdict for the flow being looked up.
// The trie descent happens at most once per lookup; every subtable reuses
// the resulting prefix-length set.
type trieCtx struct {
	t     *trie.Trie
	field flow.FieldID
	word  int

	looked bool
	nbits  int
	plens  trie.Plens
}

// Lookup finds the highest-priority rule visible at version that matches f.
// When wc is non-nil it accumulates the bits the decision depended on: any
// packet agreeing with f on those bits gets the same result, so the pair
// (result, wc) can be cached as a megaflow.
//
// Safe to call concurrently with one writer and any number of other readers.
func (cls *Classifier) Lookup(version Version, f *flow.Flow, wc *flow.Wildcards) *Rule {
	start := time.Now()
	g := cls.domain.Enter()
	m := cls.lookup(version, f, wc, true)
	g.Exit()
	var rule *Rule
	if m != nil {
		rule = m.rule
	}
	cls.metrics.RecordLookup(time.Since(start), rule != nil)
	return rule
}

func (cls *Classifier) lookup(version Version, f *flow.Flow, wc *flow.Wildcards, allowConj bool) *clsMatch {
	var tries [maxTries]trieCtx
	nTries := int(cls.nTries.Load())
	for i := 0; i < nTries; i++ {
		if ct := cls.tries[i].Load(); ct != nil {
			tries[i] = trieCtx{t: ct.t, field: ct.field, word: flow.Fields[ct.field].Word}
		}
	}

	// The partition of the flow's metadata prunes subtables that match
	// metadata exactly but hold no rule with this value. A missing
	// partition leaves only the reserved arbitrary tag, which no subtable
	// tag contains.
	tags := tagAll
	if !cls.partitions.IsEmpty() {
		md := f.Metadata()
		p, ok := cls.partitions.Find(flow.HashUint64(md, 0), func(p *partition) bool {
			return p.metadata == md
		})
		if ok {
			tags = p.tags.Load()
		} else {
			tags = tagArbitrary
		}
		// Pruning consulted the whole metadata value, so the result only
		// holds for packets carrying the same one.
		if wc != nil {
			wc.SetFieldPrefix(flow.FieldMetadata, flow.Fields[flow.FieldMetadata].Bits)
		}
	}

	var hard *clsMatch
	hardPri := math.MinInt
	var soft []*conjunctionSet

	for _, e := range cls.subtables.Load() {
		if e.Priority <= hardPri {
			break
		}
		st := e.Value
		if st.tag&tags == 0 {
			cls.metrics.RecordPartitionSkip()
			continue
		}
		m := cls.findMatchWC(st, version, f, tries[:nTries], wc)
		if m == nil {
			continue
		}
		if cs := m.conj.Load(); cs != nil {
			if allowConj {
				soft = append(soft, cs)
			}
			continue
		}
		if m.priority > hardPri {
			hard = m
			hardPri = m.priority
		}
	}

	// Conjunctive resolution: walk soft matches from the highest priority
	// down. A conjunction fires once every clause has at least one match at
	// that priority; the fired ID is then looked up as an ordinary flow with
	// conj_id set. An ordinary match at the same or higher priority beats
	// all remaining soft matches.
	for len(soft) > 0 {
		softPri := math.MinInt
		for _, s := range soft {
			if s.priority > softPri {
				softPri = s.priority
			}
		}
		if softPri <= hardPri {
			break
		}

		seen := make(map[uint32]uint64)
		for _, s := range soft {
			if s.priority != softPri {
				continue
			}
			for _, c := range s.clauses {
				full := uint64(1)<<uint(c.NClauses) - 1
				old := seen[c.ID]
				now := old | uint64(1)<<uint(c.Clause)
				seen[c.ID] = now
				if now == old || now != full {
					continue
				}
				saved := f.ConjID()
				f.SetConjID(c.ID)
				m := cls.lookup(version, f, wc, false)
				f.SetConjID(saved)
				if m != nil {
					if wc != nil {
						wc.SetFieldPrefix(flow.FieldConjID, flow.Fields[flow.FieldConjID].Bits)
					}
					return m
				}
			}
		}

		// Nothing fired at this priority; discard its soft matches and try
		// the next lower one.
		kept := soft[:0]
		for _, s := range soft {
			if s.priority != softPri {
				kept = append(kept, s)
			}
		}
		soft = kept
	}

	return hard
}

// findMatchWC probes one subtable stage by stage. A miss in stage i folds
// only the mask words up to the end of stage i into wc: the later fields
// were never consulted, so they stay wildcarded in the result.
func (cls *Classifier) findMatchWC(st *subtable, version Version, f *flow.Flow, tries []trieCtx, wc *flow.Wildcards) *clsMatch {
	cls.metrics.RecordSubtableProbe()

	var basis uint32
	examined := 0
	last := len(st.segments) - 1

	for i, seg := range st.segments {
		if cls.checkTries(st, tries, seg, f, wc) {
			if wc != nil {
				wc.FoldMinimaskRange(st.mask, 0, examined)
			}
			cls.metrics.RecordTrieSkip()
			return nil
		}

		hash := flow.HashFlowRange(st.mask, f, seg.start, seg.end, &basis)
		if i < last {
			if !st.indices[i].contains(hash) {
				if wc != nil {
					wc.FoldMinimaskRange(st.mask, 0, seg.end)
				}
				return nil
			}
			examined = seg.end
			continue
		}

		// Final stage: resolve in the rules map and walk the chain for the
		// first version-visible entry.
		head, ok := st.rules.Find(hash, func(m *clsMatch) bool {
			return flow.MiniflowMatchesFlow(m.fl, st.mask, f)
		})
		if wc != nil {
			wc.FoldMinimask(st.mask)
		}
		if !ok {
			return nil
		}
		for m := head; m != nil; m = m.next.Load() {
			if m.visibleIn(version) {
				return m
			}
		}
		return nil
	}
	return nil
}

// checkTries consults the prefix tries whose field lives in this stage's
// word range. When no rule anywhere needs this subtable's prefix length for
// the flow's value, the subtable cannot match; only the trie-determined
// prefix bits are un-wildcarded for the skip.
func (cls *Classifier) checkTries(st *subtable, tries []trieCtx, seg segment, f *flow.Flow, wc *flow.Wildcards) bool {
	for j := range tries {
		ctx := &tries[j]
		if ctx.t == nil || ctx.word < seg.start || ctx.word >= seg.end {
			continue
		}
		plen := int(st.triePlen[j].Load())
		if plen == 0 {
			continue
		}
		if !ctx.looked {
			w, n := f.PrefixKey(ctx.field)
			ctx.nbits, ctx.plens = ctx.t.Lookup(trie.Key{W: w, Len: n})
			ctx.looked = true
		}
		if !ctx.plens.Get(plen) {
			checkbits := ctx.nbits
			if checkbits > plen {
				checkbits = plen
			}
			if wc != nil {
				wc.SetFieldPrefix(ctx.field, checkbits)
			}
			return true
		}
	}
	return false
}
