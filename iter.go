package classifier

import (
	"iter"

	"github.com/tupleflow/classifier/internal/pvector"
)

// Cursor walks the rules visible at one version, optionally restricted to
// rules that target loosely covers (every packet the rule matches, target
// matches too). A nil or catchall target visits everything.
//
// Iteration is lockless: it reads the published subtable order and each
// subtable's rule snapshot, so it is safe concurrently with the writer.
// Rules inserted or removed mid-iteration may or may not be visited.
type Cursor struct {
	cls     *Classifier
	target  *Rule
	version Version

	entries []pvector.Entry[subtable]
	si      int
	rules   []*Rule
	ri      int
	rule    *Rule
}

// CursorStart positions a new cursor on the first matching rule.
func (cls *Classifier) CursorStart(target *Rule, version Version) *Cursor {
	c := &Cursor{
		cls:     cls,
		target:  target,
		version: version,
		entries: cls.subtables.Load(),
		si:      -1,
	}
	c.Advance()
	return c
}

// Rule returns the rule under the cursor, nil when iteration is done.
func (c *Cursor) Rule() *Rule { return c.rule }

// Advance moves to the next matching rule.
func (c *Cursor) Advance() {
	for {
		for c.ri < len(c.rules) {
			r := c.rules[c.ri]
			c.ri++
			if !r.VisibleInVersion(c.version) {
				continue
			}
			if c.target != nil && !r.IsLooseMatch(c.target.match) {
				continue
			}
			c.rule = r
			return
		}

		c.si++
		if c.si >= len(c.entries) {
			c.rule = nil
			return
		}
		st := c.entries[c.si].Value
		// A subtable constraining bits the target wildcards cannot hold a
		// rule the target loosely covers.
		if c.target != nil && !st.mask.CoveredBy(c.target.match.Mask()) {
			c.rules = nil
			c.ri = 0
			continue
		}
		c.rules = st.loadRules()
		c.ri = 0
	}
}

// Rules returns a range-over-func iterator over the rules visible at version
// that target loosely covers. Pass a nil target to visit every visible rule.
//
//	for r := range cls.Rules(nil, v) { ... }
func (cls *Classifier) Rules(target *Rule, version Version) iter.Seq[*Rule] {
	return func(yield func(*Rule) bool) {
		for c := cls.CursorStart(target, version); c.Rule() != nil; c.Advance() {
			if !yield(c.Rule()) {
				return
			}
		}
	}
}
