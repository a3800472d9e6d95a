package flow

import (
	"fmt"
	"math/bits"
	"net/netip"
	"strings"
)

// Match is an uncompressed matching rule: flow values plus a mask selecting
// the bits the rule constrains. Zero mask bits are wildcarded.
type Match struct {
	Flow Flow
	Mask Flow
}

// SetField sets an exact match on a single-word field.
func (m *Match) SetField(id FieldID, v uint64) {
	m.Flow.SetField(id, v)
	m.Mask.SetField(id, fieldMask(Fields[id].Bits))
}

// SetFieldMasked sets a masked match on a single-word field. The value is
// trimmed to the mask.
func (m *Match) SetFieldMasked(id FieldID, v, mask uint64) {
	m.Flow.SetField(id, v&mask)
	m.Mask.SetField(id, mask)
}

func (m *Match) SetMetadata(v uint64) { m.SetField(FieldMetadata, v) }
func (m *Match) SetInPort(p uint32)   { m.SetField(FieldInPort, uint64(p)) }
func (m *Match) SetConjID(id uint32)  { m.SetField(FieldConjID, uint64(id)) }
func (m *Match) SetEthSrc(a uint64)   { m.SetField(FieldEthSrc, a) }
func (m *Match) SetEthDst(a uint64)   { m.SetField(FieldEthDst, a) }
func (m *Match) SetEthType(t uint16)  { m.SetField(FieldEthType, uint64(t)) }
func (m *Match) SetIPProto(p uint8)   { m.SetField(FieldIPProto, uint64(p)) }
func (m *Match) SetTPSrc(p uint16)    { m.SetField(FieldTPSrc, uint64(p)) }
func (m *Match) SetTPDst(p uint16)    { m.SetField(FieldTPDst, uint64(p)) }

// SetIPv4Src sets an exact match on the IPv4 source address.
func (m *Match) SetIPv4Src(a netip.Addr) { m.SetIPv4SrcPrefix(a, 32) }

// SetIPv4Dst sets an exact match on the IPv4 destination address.
func (m *Match) SetIPv4Dst(a netip.Addr) { m.SetIPv4DstPrefix(a, 32) }

// SetIPv4SrcPrefix matches the leading plen bits of the IPv4 source address.
func (m *Match) SetIPv4SrcPrefix(a netip.Addr, plen int) {
	pm := uint64(prefixMask32(plen))
	m.SetFieldMasked(FieldIPv4Src, uint64(ipv4Bits(a)), pm)
}

// SetIPv4DstPrefix matches the leading plen bits of the IPv4 destination
// address.
func (m *Match) SetIPv4DstPrefix(a netip.Addr, plen int) {
	pm := uint64(prefixMask32(plen))
	m.SetFieldMasked(FieldIPv4Dst, uint64(ipv4Bits(a)), pm)
}

// SetIPv6SrcPrefix matches the leading plen bits of the IPv6 source address.
func (m *Match) SetIPv6SrcPrefix(a netip.Addr, plen int) {
	m.setIPv6Prefix(FieldIPv6Src, a, plen)
}

// SetIPv6DstPrefix matches the leading plen bits of the IPv6 destination
// address.
func (m *Match) SetIPv6DstPrefix(a netip.Addr, plen int) {
	m.setIPv6Prefix(FieldIPv6Dst, a, plen)
}

func (m *Match) setIPv6Prefix(id FieldID, a netip.Addr, plen int) {
	v := ipv6Bits(a)
	pm := prefixMask128(plen)
	m.Flow.SetField128(id, [2]uint64{v[0] & pm[0], v[1] & pm[1]})
	m.Mask.SetField128(id, pm)
}

func prefixMask32(plen int) uint32 {
	if plen <= 0 {
		return 0
	}
	if plen >= 32 {
		return ^uint32(0)
	}
	return ^uint32(0) << uint(32-plen)
}

func prefixMask128(plen int) [2]uint64 {
	var pm [2]uint64
	if plen > 0 {
		if plen >= 64 {
			pm[0] = ^uint64(0)
		} else {
			pm[0] = ^uint64(0) << uint(64-plen)
		}
	}
	if plen > 64 {
		if plen >= 128 {
			pm[1] = ^uint64(0)
		} else {
			pm[1] = ^uint64(0) << uint(128-plen)
		}
	}
	return pm
}

// String renders the constrained fields as "name=value/mask" pairs.
func (m *Match) String() string {
	var sb strings.Builder
	for id := FieldID(0); int(id) < NumFields; id++ {
		fd := &Fields[id]
		if fd.Words == 2 {
			mk := m.Mask.Field128(id)
			if mk[0] == 0 && mk[1] == 0 {
				continue
			}
			v := m.Flow.Field128(id)
			fmt.Fprintf(&sb, "%s=%016x%016x/%016x%016x,", fd.Name, v[0], v[1], mk[0], mk[1])
			continue
		}
		mk := m.Mask.Field(id)
		if mk == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s=%#x/%#x,", fd.Name, m.Flow.Field(id), mk)
	}
	if sb.Len() == 0 {
		return "catchall"
	}
	return strings.TrimSuffix(sb.String(), ",")
}

// Minimatch is the compressed form of a Match: a value miniflow and a mask
// miniflow sharing one presence map, with values pre-masked.
type Minimatch struct {
	flow *Miniflow
	mask *Miniflow
}

// NewMinimatch compresses a Match.
func NewMinimatch(m *Match) *Minimatch {
	var present uint64
	for w := 0; w < NumWords; w++ {
		if m.Mask.words[w] != 0 {
			present |= 1 << uint(w)
		}
	}
	return &Minimatch{
		flow: newMiniflow(&m.Flow, present, &m.Mask),
		mask: newMiniflow(&m.Mask, present, nil),
	}
}

// Flow returns the pre-masked value miniflow.
func (mm *Minimatch) Flow() *Miniflow { return mm.flow }

// Mask returns the mask miniflow.
func (mm *Minimatch) Mask() *Miniflow { return mm.mask }

// Equal reports whether two minimatches are identical.
func (mm *Minimatch) Equal(o *Minimatch) bool {
	return mm.mask.Equal(o.mask) && mm.flow.Equal(o.flow)
}

// Clone returns a deep copy.
func (mm *Minimatch) Clone() *Minimatch {
	return &Minimatch{flow: mm.flow.Clone(), mask: mm.mask.Clone()}
}

// Expand decompresses into a Match.
func (mm *Minimatch) Expand() Match {
	return Match{Flow: mm.flow.Expand(), Mask: mm.mask.Expand()}
}

// MatchesFlow reports whether f matches the rule: every masked bit of f
// agrees with the rule's value.
func (mm *Minimatch) MatchesFlow(f *Flow) bool {
	i := 0
	for b := mm.mask.bits; b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		if f.words[w]&mm.mask.vals[i] != mm.flow.vals[i] {
			return false
		}
		i++
	}
	return true
}

// HashRange hashes the rule's masked values for the mask words within
// [start, end), chaining through basis exactly like HashFlowRange so that a
// rule and a flow matching it hash identically stage by stage.
func (mm *Minimatch) HashRange(start, end int, basis *uint32) uint32 {
	h := *basis
	for b := mm.mask.bits & wordRangeMask(start, end); b != 0; b &= b - 1 {
		w := bits.TrailingZeros64(b)
		h = hashAdd64(h, mm.flow.Get(w))
	}
	*basis = h
	n := bits.OnesCount64(mm.mask.bits & wordRangeMask(0, end))
	return hashFinish(h, uint32(8*n))
}

func (mm *Minimatch) String() string {
	m := mm.Expand()
	return m.String()
}

// Overlaps reports whether some packet could match both rules: their values
// agree on every bit both masks select.
func (mm *Minimatch) Overlaps(o *Minimatch) bool {
	for w := 0; w < NumWords; w++ {
		m := mm.mask.Get(w) & o.mask.Get(w)
		if mm.flow.Get(w)&m != o.flow.Get(w)&m {
			return false
		}
	}
	return true
}
