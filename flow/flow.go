package flow

import "net/netip"

// NumWords is the number of 64-bit words in the Flow layout.
const NumWords = 12

// DefaultSegments are the staged-lookup boundaries between the metadata, L2,
// L3 and L4 word groups.
var DefaultSegments = []int{2, 5, 11}

// Flow is one set of packet header values laid out in fixed words:
//
//	word 0     metadata
//	word 1     in_port | conj_id
//	word 2     eth_src
//	word 3     eth_dst
//	word 4     eth_type | vlan_tci
//	word 5     ip_src | ip_dst (IPv4)
//	words 6-7  ipv6_src
//	words 8-9  ipv6_dst
//	word 10    ip_proto | ip_tos
//	word 11    tp_src | tp_dst
type Flow struct {
	words [NumWords]uint64
}

// Word returns the raw 64-bit word at index i.
func (f *Flow) Word(i int) uint64 { return f.words[i] }

// SetWord stores a raw 64-bit word at index i.
func (f *Flow) SetWord(i int, v uint64) { f.words[i] = v }

// Field returns the value of a single- or double-word field. For 128-bit
// fields only the first 64 bits are returned; use Field128.
func (f *Flow) Field(id FieldID) uint64 {
	fd := &Fields[id]
	if fd.Words == 2 {
		return f.words[fd.Word]
	}
	return f.words[fd.Word] >> fd.Shift & fieldMask(fd.Bits)
}

// Field128 returns the two words of a 128-bit field.
func (f *Flow) Field128(id FieldID) [2]uint64 {
	fd := &Fields[id]
	return [2]uint64{f.words[fd.Word], f.words[fd.Word+1]}
}

// SetField stores the value of a single-word field.
func (f *Flow) SetField(id FieldID, v uint64) {
	fd := &Fields[id]
	m := fieldMask(fd.Bits) << fd.Shift
	f.words[fd.Word] = f.words[fd.Word]&^m | v<<fd.Shift&m
}

// SetField128 stores the two words of a 128-bit field.
func (f *Flow) SetField128(id FieldID, v [2]uint64) {
	fd := &Fields[id]
	f.words[fd.Word] = v[0]
	f.words[fd.Word+1] = v[1]
}

func (f *Flow) SetMetadata(v uint64)  { f.SetField(FieldMetadata, v) }
func (f *Flow) SetInPort(p uint32)    { f.SetField(FieldInPort, uint64(p)) }
func (f *Flow) SetConjID(id uint32)   { f.SetField(FieldConjID, uint64(id)) }
func (f *Flow) SetEthSrc(a uint64)    { f.SetField(FieldEthSrc, a) }
func (f *Flow) SetEthDst(a uint64)    { f.SetField(FieldEthDst, a) }
func (f *Flow) SetEthType(t uint16)   { f.SetField(FieldEthType, uint64(t)) }
func (f *Flow) SetVLANTCI(t uint16)   { f.SetField(FieldVLANTCI, uint64(t)) }
func (f *Flow) SetIPProto(p uint8)    { f.SetField(FieldIPProto, uint64(p)) }
func (f *Flow) SetIPTOS(t uint8)      { f.SetField(FieldIPTOS, uint64(t)) }
func (f *Flow) SetTPSrc(p uint16)     { f.SetField(FieldTPSrc, uint64(p)) }
func (f *Flow) SetTPDst(p uint16)     { f.SetField(FieldTPDst, uint64(p)) }
func (f *Flow) Metadata() uint64      { return f.Field(FieldMetadata) }
func (f *Flow) ConjID() uint32        { return uint32(f.Field(FieldConjID)) }

// SetIPv4Src stores an IPv4 source address. The address must be IPv4.
func (f *Flow) SetIPv4Src(a netip.Addr) { f.SetField(FieldIPv4Src, uint64(ipv4Bits(a))) }

// SetIPv4Dst stores an IPv4 destination address. The address must be IPv4.
func (f *Flow) SetIPv4Dst(a netip.Addr) { f.SetField(FieldIPv4Dst, uint64(ipv4Bits(a))) }

// SetIPv6Src stores an IPv6 source address.
func (f *Flow) SetIPv6Src(a netip.Addr) { f.SetField128(FieldIPv6Src, ipv6Bits(a)) }

// SetIPv6Dst stores an IPv6 destination address.
func (f *Flow) SetIPv6Dst(a netip.Addr) { f.SetField128(FieldIPv6Dst, ipv6Bits(a)) }

// Equal reports whether two flows hold identical values.
func (f *Flow) Equal(o *Flow) bool { return f.words == o.words }

// Hash hashes all flow words.
func (f *Flow) Hash(basis uint32) uint32 {
	h := basis
	for _, w := range f.words {
		h = hashAdd64(h, w)
	}
	return hashFinish(h, NumWords*8)
}

// PrefixKey returns the value of a trie-capable field as a left-aligned
// big-endian bit string with its length in bits.
func (f *Flow) PrefixKey(id FieldID) ([2]uint64, int) {
	fd := &Fields[id]
	if fd.Words == 2 {
		return [2]uint64{f.words[fd.Word], f.words[fd.Word+1]}, fd.Bits
	}
	v := f.words[fd.Word] >> fd.Shift & fieldMask(fd.Bits)
	return [2]uint64{v << uint(64-fd.Bits)}, fd.Bits
}

func ipv4Bits(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func ipv6Bits(a netip.Addr) [2]uint64 {
	b := a.As16()
	var k [2]uint64
	for i := 0; i < 8; i++ {
		k[0] = k[0]<<8 | uint64(b[i])
		k[1] = k[1]<<8 | uint64(b[i+8])
	}
	return k
}
