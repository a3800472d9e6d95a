package classifier

import (
	"sync/atomic"

	"github.com/tupleflow/classifier/flow"
)

// clsMatch is the classifier's internal per-rule node. Rules with identical
// matches share one subtable hash slot and hang off it as a chain sorted by
// descending priority; the head is the entry stored in the subtable map and
// in the stage indices.
//
// Immutable fields are set at construction, before the node is linked where
// readers can see it. next, removeVersion and conj change under the single
// writer and are read locklessly.
type clsMatch struct {
	rule     *Rule
	priority int
	fl       *flow.Miniflow // pre-masked values, presence map shared with the subtable mask

	addVersion    Version
	removeVersion atomic.Uint64

	next atomic.Pointer[clsMatch]
	conj atomic.Pointer[conjunctionSet]

	// partition is the metadata partition holding a reference for this rule,
	// nil when the subtable does not match metadata exactly. Writer-only.
	partition *partition
}

// conjunctionSet is the immutable clause list of a conjunctive rule,
// snapshotted at insertion time.
type conjunctionSet struct {
	priority int
	clauses  []Conjunction
}

func newClsMatch(rule *Rule, version Version) *clsMatch {
	m := &clsMatch{
		rule:       rule,
		priority:   rule.priority,
		fl:         rule.match.Flow(),
		addVersion: version,
	}
	m.removeVersion.Store(uint64(notRemoved))
	if len(rule.conjs) > 0 {
		m.conj.Store(&conjunctionSet{priority: rule.priority, clauses: rule.conjs})
	}
	return m
}

// visibleIn reports whether the rule matches lookups at version v:
// it was added at or before v and not removed at or before v.
func (m *clsMatch) visibleIn(v Version) bool {
	return m.addVersion <= v && v < Version(m.removeVersion.Load())
}

// eventuallyInvisible reports whether a removal version is set, meaning the
// rule is on its way out even if still visible at older versions.
func (m *clsMatch) eventuallyInvisible() bool {
	return Version(m.removeVersion.Load()) != notRemoved
}
