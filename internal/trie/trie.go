// Package trie implements the ternary prefix trie a classifier keeps per
// configured address field. Each node compresses a run of prefix bits and
// counts the rules terminating at its depth; a lookup reports how many value
// bits had to be inspected and at which prefix lengths rules exist along the
// descended path. That is what lets the classifier skip subtables whose masks
// are longer than any installed prefix actually requires.
//
// Mutations are persistent: the writer copies the path it changes and swaps
// the root pointer, so readers traverse immutable nodes without locks.
package trie

import (
	"math/bits"
	"sync/atomic"
)

// MaxBits is the widest supported prefix key (IPv6 address).
const MaxBits = 128

// Key is a left-aligned big-endian bit string: bit 0 is the most significant
// bit of W[0].
type Key struct {
	W   [2]uint64
	Len int
}

// Plens records the prefix lengths (1..MaxBits) at which rules exist.
type Plens struct {
	w [2]uint64
}

func (p *Plens) set(l int) {
	if l >= 1 && l <= MaxBits {
		p.w[(l-1)>>6] |= 1 << uint((l-1)&63)
	}
}

// Get reports whether any rule has a prefix of exactly l bits on the
// descended path.
func (p Plens) Get(l int) bool {
	if l < 1 || l > MaxBits {
		return false
	}
	return p.w[(l-1)>>6]>>uint((l-1)&63)&1 != 0
}

// IsZero reports whether no prefix length is recorded.
func (p Plens) IsZero() bool { return p.w[0] == 0 && p.w[1] == 0 }

// node holds up to 64 prefix bits, left-aligned. Nodes are immutable once
// published; longer prefixes chain through edges.
type node struct {
	prefix uint64
	nbits  uint8
	nRules uint32
	edge   [2]*node
}

// Trie is a prefix trie with a single writer and lock-free readers.
type Trie struct {
	root atomic.Pointer[node]
}

// New creates an empty trie.
func New() *Trie { return &Trie{} }

// IsEmpty reports whether the trie holds no prefixes.
func (t *Trie) IsEmpty() bool { return t.root.Load() == nil }

func bitAt(w [2]uint64, i int) int {
	return int(w[i>>6] >> uint(63-i&63) & 1)
}

// prefixFrom returns 64 bits of k starting at bit ofs, left-aligned.
func prefixFrom(w [2]uint64, ofs int) uint64 {
	if ofs >= MaxBits {
		return 0
	}
	v := w[ofs>>6] << uint(ofs&63)
	if ofs>>6 == 0 && ofs&63 != 0 {
		v |= w[1] >> uint(64-ofs&63)
	}
	return v
}

// equalBits counts how many leading bits of n's prefix agree with k starting
// at ofs, clamped to the remaining key length.
func equalBits(n *node, k Key, ofs int) int {
	nb := int(n.nbits)
	if nb == 0 {
		return 0
	}
	x := (prefixFrom(k.W, ofs) ^ n.prefix) & (^uint64(0) << uint(64-nb))
	eq := bits.LeadingZeros64(x)
	if eq > nb {
		eq = nb
	}
	if rem := k.Len - ofs; eq > rem {
		eq = rem
	}
	return eq
}

// branch builds the node chain for the tail of k starting at ofs.
func branch(k Key, ofs int) *node {
	n := k.Len - ofs
	if n <= 64 {
		return &node{prefix: prefixFrom(k.W, ofs), nbits: uint8(n), nRules: 1}
	}
	first := &node{prefix: prefixFrom(k.W, ofs), nbits: 64}
	first.edge[bitAt(k.W, ofs+64)] = branch(k, ofs+64)
	return first
}

// Insert adds one rule with prefix k. Writer only.
func (t *Trie) Insert(k Key) {
	t.root.Store(insert(t.root.Load(), k, 0))
}

func insert(n *node, k Key, ofs int) *node {
	if n == nil {
		return branch(k, ofs)
	}
	eq := equalBits(n, k, ofs)
	if eq < int(n.nbits) {
		// The key diverges (or ends) inside this node: split it.
		at := ofs + eq
		parent := &node{prefix: n.prefix & (^uint64(0) << uint(64-eq)), nbits: uint8(eq)}
		oldBit := int(n.prefix >> uint(63-eq) & 1)
		oldChild := *n
		oldChild.prefix = n.prefix << uint(eq)
		oldChild.nbits = n.nbits - uint8(eq)
		parent.edge[oldBit] = &oldChild
		if at == k.Len {
			parent.nRules = 1
		} else {
			parent.edge[1-oldBit] = branch(k, at)
		}
		return parent
	}
	ofs += int(n.nbits)
	cp := *n
	if ofs == k.Len {
		cp.nRules++
		return &cp
	}
	b := bitAt(k.W, ofs)
	cp.edge[b] = insert(n.edge[b], k, ofs)
	return &cp
}

// Remove drops one rule with prefix k. Removing a prefix that was never
// inserted is a no-op. Writer only.
func (t *Trie) Remove(k Key) {
	t.root.Store(remove(t.root.Load(), k, 0))
}

func remove(n *node, k Key, ofs int) *node {
	if n == nil {
		return nil
	}
	eq := equalBits(n, k, ofs)
	if eq < int(n.nbits) {
		return n
	}
	ofs += int(n.nbits)
	cp := *n
	if ofs == k.Len {
		if cp.nRules > 0 {
			cp.nRules--
		}
		return prune(&cp)
	}
	b := bitAt(k.W, ofs)
	cp.edge[b] = remove(n.edge[b], k, ofs)
	return prune(&cp)
}

// prune drops an empty leaf and merges an empty interior node into its only
// child when the combined prefix still fits one node.
func prune(n *node) *node {
	if n.nRules > 0 {
		return n
	}
	c0, c1 := n.edge[0], n.edge[1]
	switch {
	case c0 == nil && c1 == nil:
		return nil
	case c0 != nil && c1 != nil:
		return n
	}
	c := c0
	if c == nil {
		c = c1
	}
	if int(n.nbits)+int(c.nbits) > 64 {
		return n
	}
	merged := *c
	merged.prefix = n.prefix | c.prefix>>uint(n.nbits)
	merged.nbits = n.nbits + c.nbits
	return &merged
}

// Lookup descends along value k, returning the number of bits that had to be
// inspected to reach the decision and the prefix lengths holding rules along
// the path. k.Len is the full field width.
func (t *Trie) Lookup(k Key) (int, Plens) {
	var plens Plens
	matchLen := 0
	n := t.root.Load()
	for n != nil {
		eq := equalBits(n, k, matchLen)
		matchLen += eq
		if eq < int(n.nbits) {
			// Mismatch: the first differing bit decides.
			return matchLen + 1, plens
		}
		if n.nRules > 0 {
			plens.set(matchLen)
		}
		if matchLen >= k.Len {
			return k.Len, plens
		}
		n = n.edge[bitAt(k.W, matchLen)]
	}
	// Fell off the tree: the branch bit itself was inspected.
	return matchLen + 1, plens
}
