package classifier

import (
	"fmt"
	"sync/atomic"

	"github.com/tupleflow/classifier/flow"
)

// Version identifies a point in the classifier's modification history. Rules
// carry the version they were added in and, once slated for removal, the
// version they disappear in; lookups name the version they want to see.
type Version uint64

const (
	// MinVersion is the first usable version. A classifier used without
	// versioning performs every operation at MinVersion.
	MinVersion Version = 0

	// MaxVersion is the last usable version.
	MaxVersion Version = ^Version(0) - 1

	// notRemoved marks a rule with no removal scheduled. It is greater than
	// every usable version, so such a rule stays visible indefinitely.
	notRemoved = ^Version(0)
)

// Conjunction is one clause membership of a conjunctive rule: the rule
// asserts clause Clause (zero-based) of the conjunction ID, which has
// NClauses clauses in total.
type Conjunction struct {
	ID       uint32
	Clause   uint8
	NClauses uint8
}

// Rule is a classifier rule: a match with a priority. A Rule is created
// detached, may be inserted into at most one classifier at a time, and keeps
// its identity across removal and re-insertion.
//
// The caller owns the Rule; the classifier never frees it. Embed it (or point
// to it) from the structure carrying the rule's actions and recover that
// structure from the *Rule returned by lookups.
type Rule struct {
	priority int
	match    *flow.Minimatch
	conjs    []Conjunction

	// cm points at the classifier-internal match node while the rule is
	// inserted, nil while detached. Written by the single writer, read by
	// anyone calling the visibility methods.
	cm atomic.Pointer[clsMatch]
}

// NewRule builds a rule from an uncompressed match. The match is compressed
// at construction; later changes to m do not affect the rule.
func NewRule(m *flow.Match, priority int) *Rule {
	return NewRuleFromMinimatch(flow.NewMinimatch(m), priority)
}

// NewRuleFromMinimatch builds a rule from an already-compressed match. The
// minimatch is used as-is and must not be modified afterwards.
func NewRuleFromMinimatch(mm *flow.Minimatch, priority int) *Rule {
	return &Rule{priority: priority, match: mm}
}

// Priority returns the rule's priority. Higher wins.
func (r *Rule) Priority() int { return r.priority }

// Match returns the rule's compressed match. Callers must not modify it.
func (r *Rule) Match() *flow.Minimatch { return r.match }

// Conjunctions returns the rule's conjunction clauses, nil for an ordinary
// rule.
func (r *Rule) Conjunctions() []Conjunction { return r.conjs }

// SetConjunctions turns the rule into a conjunctive (soft) match asserting
// the given clauses, or back into an ordinary rule when conjs is empty. Only
// valid while the rule is detached from any classifier; the clauses take
// effect at the next insertion. Panics on a malformed clause: every
// conjunction needs 1 <= NClauses <= 64 and Clause < NClauses.
func (r *Rule) SetConjunctions(conjs []Conjunction) {
	if r.cm.Load() != nil {
		panic("classifier: SetConjunctions on an inserted rule")
	}
	for _, c := range conjs {
		if c.NClauses == 0 || c.NClauses > 64 || c.Clause >= c.NClauses {
			panic(fmt.Sprintf("classifier: invalid conjunction clause %d of %d",
				c.Clause, c.NClauses))
		}
	}
	r.conjs = append([]Conjunction(nil), conjs...)
}

// Clone returns a detached copy of the rule with the same match, priority
// and conjunctions.
func (r *Rule) Clone() *Rule {
	nr := NewRuleFromMinimatch(r.match.Clone(), r.priority)
	nr.conjs = append([]Conjunction(nil), r.conjs...)
	return nr
}

// Equal reports whether two rules have the same match and priority.
func (r *Rule) Equal(o *Rule) bool {
	return r.priority == o.priority && r.match.Equal(o.match)
}

// IsCatchall reports whether the rule wildcards every bit.
func (r *Rule) IsCatchall() bool { return r.match.Mask().IsZero() }

// IsLooseMatch reports whether the rule would match every packet that
// criteria matches: the rule's mask is a subset of criteria's mask and the
// values agree on the rule's mask.
func (r *Rule) IsLooseMatch(criteria *flow.Minimatch) bool {
	return r.match.Mask().CoveredBy(criteria.Mask()) &&
		flow.EqualInMask(r.match.Flow(), criteria.Flow(), r.match.Mask())
}

// InClassifier reports whether the rule is currently inserted.
func (r *Rule) InClassifier() bool { return r.cm.Load() != nil }

// VisibleInVersion reports whether the rule matches lookups at version v.
// False for a detached rule.
func (r *Rule) VisibleInVersion(v Version) bool {
	m := r.cm.Load()
	return m != nil && m.visibleIn(v)
}

// MakeInvisibleInVersion hides the rule from lookups at version v and every
// later version, without removing it. The removal version can only move
// earlier; calls naming a later version than the current one are ignored.
// The rule must be inserted.
func (r *Rule) MakeInvisibleInVersion(v Version) {
	m := r.cm.Load()
	if m == nil {
		panic("classifier: MakeInvisibleInVersion on a detached rule")
	}
	if v < Version(m.removeVersion.Load()) {
		m.removeVersion.Store(uint64(v))
	}
}

// MakeRemovableAfterVersion marks the rule as removed from version v+1 on:
// lookups at versions up to and including v still see it, later ones do not.
// Call this before Remove so that readers working at an old version keep
// matching the rule until it is actually taken out.
func (r *Rule) MakeRemovableAfterVersion(v Version) {
	r.MakeInvisibleInVersion(v + 1)
}

// RestoreVisibility cancels a pending invisibility, for example when a
// failed transaction is rolled back and the rule stays in place.
func (r *Rule) RestoreVisibility() {
	if m := r.cm.Load(); m != nil {
		m.removeVersion.Store(uint64(notRemoved))
	}
}

func (r *Rule) String() string {
	return fmt.Sprintf("rule{priority=%d, %s}", r.priority, r.match)
}
