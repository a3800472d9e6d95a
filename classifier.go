package classifier

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/tupleflow/classifier/flow"
	"github.com/tupleflow/classifier/internal/cmap"
	"github.com/tupleflow/classifier/internal/pvector"
	"github.com/tupleflow/classifier/internal/reclaim"
	"github.com/tupleflow/classifier/internal/trie"
)

// clsTrie binds one prefix trie to the field it indexes. The struct is
// immutable; SetPrefixFields swaps whole entries.
type clsTrie struct {
	field flow.FieldID
	t     *trie.Trie
}

// Classifier is a prioritized flow table. One writer may modify it while any
// number of readers run Lookup and iterate concurrently, without locks on
// the read side.
//
// All modifications (Insert, Replace, Remove, Defer, Publish,
// SetPrefixFields, Destroy) must come from a single goroutine, or be
// externally serialized.
type Classifier struct {
	nRules   int
	segments []int
	publish  bool

	subtables *pvector.Vector[subtable]
	stMap     *cmap.Map[*subtable]

	partitions *cmap.Map[*partition]

	tries  [maxTries]atomic.Pointer[clsTrie]
	nTries atomic.Int32

	domain  reclaim.Domain
	logger  *Logger
	metrics MetricsCollector
}

// New creates an empty classifier.
func New(opts ...Option) (*Classifier, error) {
	o := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.segments) > maxStages {
		return nil, ErrTooManySegments
	}
	prev := 0
	for _, b := range o.segments {
		if b <= prev || b >= flow.NumWords {
			return nil, &ErrInvalidSegments{Boundaries: o.segments}
		}
		prev = b
	}

	cls := &Classifier{
		segments:   slices.Clone(o.segments),
		publish:    true,
		subtables:  pvector.New[subtable](),
		stMap:      cmap.New[*subtable](),
		partitions: cmap.New[*partition](),
		logger:     o.logger,
		metrics:    o.metrics,
	}
	cls.logger.Debug("classifier created", "segments", cls.segments)
	return cls, nil
}

// Count returns the number of inserted rules, including rules invisible to
// any particular version.
func (cls *Classifier) Count() int { return cls.nRules }

// IsEmpty reports whether the classifier holds no rules.
func (cls *Classifier) IsEmpty() bool { return cls.nRules == 0 }

// Defer suspends re-sorting of the subtable probe order. Subsequent
// modifications take effect for lookups only at the next Publish, letting a
// batch of changes pay for a single re-sort. Rule visibility itself is
// governed by versions, not by Defer.
func (cls *Classifier) Defer() { cls.publish = false }

// Publish applies all deferred modifications to the lookup path and resumes
// immediate publication.
func (cls *Classifier) Publish() {
	cls.publish = true
	cls.subtables.Publish()
}

// Postpone schedules fn to run once every reader active at the time of the
// call has finished. Use it to reclaim rule-owning structures after Remove.
func (cls *Classifier) Postpone(fn func()) { cls.domain.Postpone(fn) }

// Insert adds a rule, visible to lookups at version and later. It returns
// ErrDuplicate when a rule with the same match and priority is already
// present and not scheduled for removal.
func (cls *Classifier) Insert(rule *Rule, version Version) error {
	start := time.Now()
	_, err := cls.replace(rule, version, false)
	cls.metrics.RecordInsert(time.Since(start), err)
	return err
}

// Replace adds a rule like Insert, but an existing rule with the same match
// and priority is displaced and returned; nil when there was none. The
// displaced rule becomes detached immediately, so under versioning prefer
// MakeRemovableAfterVersion plus Remove on the old rule and a plain Insert
// of the new one.
func (cls *Classifier) Replace(rule *Rule, version Version) *Rule {
	start := time.Now()
	old, _ := cls.replace(rule, version, true)
	cls.metrics.RecordInsert(time.Since(start), nil)
	return old
}

func (cls *Classifier) replace(rule *Rule, version Version, displace bool) (*Rule, error) {
	if rule.cm.Load() != nil {
		panic("classifier: rule is already inserted")
	}

	st := cls.findSubtable(rule.match.Mask())
	if st == nil {
		st = cls.insertSubtable(rule.match.Mask())
	}

	var ihash [maxStages]uint32
	hash := st.hashStages(rule.match, ihash[:])
	m := newClsMatch(rule, version)

	head := st.findHead(hash, m.fl)
	if head == nil {
		// First rule with these masked values: index the new head in the
		// tries and the stage indices before making it findable.
		cls.trieAdd(st, rule)
		for i, si := range st.indices {
			si.add(ihash[i])
		}
		st.rules.Insert(hash, m)
	} else {
		// Sorted insert into the chain: descending priority, and ahead of
		// any same-priority rule already scheduled for removal.
		var prev *clsMatch
		iter := head
		for iter != nil {
			if m.priority > iter.priority ||
				(m.priority == iter.priority && !iter.eventuallyInvisible()) {
				break
			}
			prev = iter
			iter = iter.next.Load()
		}

		if iter != nil && m.priority == iter.priority && !iter.eventuallyInvisible() {
			if !displace {
				return nil, ErrDuplicate
			}
			// Swap iter out of the chain in its place.
			m.next.Store(iter.next.Load())
			if prev == nil {
				st.rules.Replace(hash, iter, m)
			} else {
				prev.next.Store(m)
			}
			m.partition = iter.partition
			old := iter.rule
			st.replaceRuleInList(old, rule)
			rule.cm.Store(m)
			old.cm.Store(nil)
			cls.logger.Debug("rule replaced", "rule", rule.String())
			return old, nil
		}

		m.next.Store(iter)
		if prev == nil {
			st.rules.Replace(hash, head, m)
		} else {
			prev.next.Store(m)
		}
	}

	st.appendRule(rule)
	rule.cm.Store(m)
	cls.partitionAdd(st, m)
	cls.nRules++
	if st.noteAdd(m.priority) {
		cls.subtables.ChangePriority(st, st.maxPriority)
		if cls.publish {
			cls.subtables.Publish()
		}
	}
	cls.logger.Debug("rule inserted",
		"rule", rule.String(), "version", uint64(version), "subtableRules", st.nRules)
	return nil, nil
}

// Remove takes a rule out of the classifier and returns it; nil when the
// rule was not present. The rule stops matching new lookups immediately, but
// readers that already hold references may still use it; postpone any
// destruction of the caller's rule state with Postpone.
func (cls *Classifier) Remove(rule *Rule) *Rule {
	start := time.Now()
	m := rule.cm.Load()
	if m == nil {
		return nil
	}
	st := cls.findSubtable(rule.match.Mask())
	if st == nil {
		return nil
	}

	var ihash [maxStages]uint32
	hash := st.hashStages(rule.match, ihash[:])

	head := st.findHead(hash, m.fl)
	if head == nil {
		return nil
	}
	if head == m {
		if next := m.next.Load(); next != nil {
			st.rules.Replace(hash, m, next)
		} else {
			// Last rule with these masked values: unindex the head.
			for i, si := range st.indices {
				si.remove(ihash[i])
			}
			st.rules.Remove(hash, m)
			cls.trieRemove(st, rule)
		}
	} else {
		prev := head
		for prev != nil && prev.next.Load() != m {
			prev = prev.next.Load()
		}
		if prev == nil {
			return nil
		}
		prev.next.Store(m.next.Load())
	}

	st.removeRuleFromList(rule)
	cls.partitionRemove(st, m)
	rule.cm.Store(nil)
	cls.nRules--

	if st.nRules == 1 {
		cls.destroySubtable(st)
	} else if st.noteRemove(m.priority) {
		cls.subtables.ChangePriority(st, st.maxPriority)
		if cls.publish {
			cls.subtables.Publish()
		}
	}

	// The unlinked node may still sit on a reader's chain walk; clear its
	// forward pointer only after two grace periods so even a reader that
	// started mid-removal cannot be cut short.
	cls.domain.Postpone(func() {
		cls.domain.Postpone(func() {
			m.next.Store(nil)
		})
	})

	cls.metrics.RecordRemove(time.Since(start))
	cls.logger.Debug("rule removed", "rule", rule.String())
	return rule
}

// FindRuleExactly returns the inserted rule with the same match and priority
// as target that is visible at version, or nil.
func (cls *Classifier) FindRuleExactly(target *Rule, version Version) *Rule {
	st := cls.findSubtable(target.match.Mask())
	if st == nil {
		return nil
	}
	var basis uint32
	hash := target.match.HashRange(0, flow.NumWords, &basis)
	head := st.findHead(hash, target.match.Flow())
	for m := head; m != nil; m = m.next.Load() {
		if m.priority < target.priority {
			break
		}
		if m.priority == target.priority && m.visibleIn(version) {
			return m.rule
		}
	}
	return nil
}

// FindMatchExactly is FindRuleExactly for an uncompressed match.
func (cls *Classifier) FindMatchExactly(m *flow.Match, priority int, version Version) *Rule {
	return cls.FindRuleExactly(NewRule(m, priority), version)
}

// RuleOverlaps reports whether a rule visible at version with the same
// priority as target could match a packet that target also matches.
func (cls *Classifier) RuleOverlaps(target *Rule, version Version) bool {
	for _, e := range cls.subtables.Load() {
		if e.Priority < target.priority {
			break
		}
		for _, r := range e.Value.loadRules() {
			m := r.cm.Load()
			if m == nil || m.priority != target.priority || !m.visibleIn(version) {
				continue
			}
			if target.match.Overlaps(r.match) {
				return true
			}
		}
	}
	return false
}

// Destroy detaches every rule and resets the classifier to empty. The rules
// themselves are untouched; they may be re-inserted here or elsewhere.
func (cls *Classifier) Destroy() {
	cls.stMap.Range(func(_ uint32, st *subtable) bool {
		for _, r := range st.loadRules() {
			r.cm.Store(nil)
		}
		return true
	})
	cls.subtables = pvector.New[subtable]()
	cls.stMap = cmap.New[*subtable]()
	cls.partitions = cmap.New[*partition]()
	for i := range cls.tries {
		cls.tries[i].Store(nil)
	}
	cls.nTries.Store(0)
	cls.nRules = 0
	cls.logger.Debug("classifier destroyed")
}

func (cls *Classifier) findSubtable(mask *flow.Miniflow) *subtable {
	st, _ := cls.stMap.Find(mask.Hash(0), func(st *subtable) bool {
		return st.mask.Equal(mask)
	})
	return st
}

func (cls *Classifier) insertSubtable(mask *flow.Miniflow) *subtable {
	st := newSubtable(cls.segments, mask)

	// Seed trie prefix lengths for the already-active tries. The subtable is
	// empty, so there is nothing to index yet.
	n := int(cls.nTries.Load())
	for i := 0; i < n; i++ {
		if ct := cls.tries[i].Load(); ct != nil {
			st.triePlen[i].Store(int32(mask.FieldPrefixLen(ct.field)))
		}
	}

	cls.stMap.Insert(st.fingerprint, st)
	cls.subtables.Insert(st, st.maxPriority)
	cls.logger.Debug("subtable created",
		"tag", st.tag, "stages", len(st.segments), "subtables", cls.stMap.Len())
	return st
}

func (cls *Classifier) destroySubtable(st *subtable) {
	cls.subtables.Remove(st)
	if cls.publish {
		cls.subtables.Publish()
	}
	cls.stMap.Remove(st.fingerprint, st)
	cls.logger.Debug("subtable destroyed", "subtables", cls.stMap.Len())
}

// partitionAdd accounts a newly inserted rule in the partition of its
// subtable's metadata value, creating the partition on first use.
func (cls *Classifier) partitionAdd(st *subtable, m *clsMatch) {
	if st.tag == tagAll {
		return
	}
	md := m.fl.Get(flow.Fields[flow.FieldMetadata].Word)
	hash := flow.HashUint64(md, 0)
	p, ok := cls.partitions.Find(hash, func(p *partition) bool {
		return p.metadata == md
	})
	if !ok {
		p = newPartition(md)
		cls.partitions.Insert(hash, p)
	}
	p.add(st.tag)
	m.partition = p
}

func (cls *Classifier) partitionRemove(st *subtable, m *clsMatch) {
	p := m.partition
	if p == nil {
		return
	}
	if p.subtract(st.tag) {
		cls.partitions.Remove(flow.HashUint64(p.metadata, 0), p)
	}
	m.partition = nil
}
