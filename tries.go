package classifier

import (
	"github.com/tupleflow/classifier/flow"
	"github.com/tupleflow/classifier/internal/trie"
)

// SetPrefixFields configures which fields get a prefix trie, replacing the
// current set. At most maxTries fields, all of which must be trie-capable;
// a field that is not yields ErrInvalidTrieField with the current set left
// untouched. Duplicate fields are collapsed with a warning. Returns whether
// the set changed.
//
// Tries already configured for the same leading fields are kept as-is;
// the rest are rebuilt from the inserted rules. Lookups running concurrently
// stay correct throughout: a trie is only consulted once it is fully
// populated, and a dropped trie stops pruning before it goes away.
func (cls *Classifier) SetPrefixFields(fields ...flow.FieldID) (bool, error) {
	if len(fields) > maxTries {
		return false, ErrTooManyTries
	}

	selected := make([]flow.FieldID, 0, maxTries)
	for _, f := range fields {
		if !f.Valid() || !f.TrieCapable() {
			return false, &ErrInvalidTrieField{Field: f}
		}
		dup := false
		for _, s := range selected {
			if s == f {
				dup = true
				break
			}
		}
		if dup {
			cls.logger.Warn("skipping duplicate prefix field", "field", f.String())
			continue
		}
		selected = append(selected, f)
	}

	n := int(cls.nTries.Load())
	keep := 0
	for keep < len(selected) && keep < n {
		ct := cls.tries[keep].Load()
		if ct == nil || ct.field != selected[keep] {
			break
		}
		keep++
	}
	if keep == len(selected) && keep == n {
		return false, nil
	}

	// Readers iterate tries[0:nTries], so shrink the count before touching
	// the slots being replaced.
	cls.nTries.Store(int32(keep))
	for i := keep; i < n; i++ {
		cls.trieDeactivate(i)
	}
	for i := keep; i < len(selected); i++ {
		cls.trieActivate(i, selected[i])
		cls.nTries.Store(int32(i + 1))
	}
	cls.logger.Debug("prefix fields changed", "count", len(selected))
	return true, nil
}

// trieActivate builds trie slot i for a field from all inserted rules. The
// trie is fully populated before any subtable's prefix length references it,
// so a concurrent lookup never consults a half-built trie.
func (cls *Classifier) trieActivate(i int, field flow.FieldID) {
	t := trie.New()
	type pending struct {
		st   *subtable
		plen int
	}
	var plens []pending
	cls.stMap.Range(func(_ uint32, st *subtable) bool {
		plen := st.mask.FieldPrefixLen(field)
		if plen > 0 {
			st.rules.Range(func(_ uint32, head *clsMatch) bool {
				w, _ := head.fl.PrefixKey(field)
				t.Insert(trie.Key{W: w, Len: plen})
				return true
			})
		}
		plens = append(plens, pending{st, plen})
		return true
	})
	cls.tries[i].Store(&clsTrie{field: field, t: t})
	for _, p := range plens {
		p.st.triePlen[i].Store(int32(p.plen))
	}
}

// trieDeactivate disables trie slot i: prefix lengths are zeroed first so no
// lookup prunes on the trie while it is dismantled.
func (cls *Classifier) trieDeactivate(i int) {
	cls.stMap.Range(func(_ uint32, st *subtable) bool {
		st.triePlen[i].Store(0)
		return true
	})
	cls.tries[i].Store(nil)
}

// trieAdd indexes a new chain head in every applicable trie. Heads are the
// unit of trie accounting: rules with identical masked values share one
// prefix entry.
func (cls *Classifier) trieAdd(st *subtable, rule *Rule) {
	n := int(cls.nTries.Load())
	for i := 0; i < n; i++ {
		ct := cls.tries[i].Load()
		if ct == nil {
			continue
		}
		plen := int(st.triePlen[i].Load())
		if plen == 0 {
			continue
		}
		w, _ := rule.match.Flow().PrefixKey(ct.field)
		ct.t.Insert(trie.Key{W: w, Len: plen})
	}
}

func (cls *Classifier) trieRemove(st *subtable, rule *Rule) {
	n := int(cls.nTries.Load())
	for i := 0; i < n; i++ {
		ct := cls.tries[i].Load()
		if ct == nil {
			continue
		}
		plen := int(st.triePlen[i].Load())
		if plen == 0 {
			continue
		}
		w, _ := rule.match.Flow().PrefixKey(ct.field)
		ct.t.Remove(trie.Key{W: w, Len: plen})
	}
}
