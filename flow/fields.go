package flow

// FieldID identifies a header field in the Flow layout.
type FieldID int

const (
	FieldMetadata FieldID = iota
	FieldInPort
	FieldConjID
	FieldEthSrc
	FieldEthDst
	FieldEthType
	FieldVLANTCI
	FieldIPv4Src
	FieldIPv4Dst
	FieldIPv6Src
	FieldIPv6Dst
	FieldIPProto
	FieldIPTOS
	FieldTPSrc
	FieldTPDst

	NumFields int = iota
)

// Field describes the geometry of a header field: the word it lives in, the
// bit offset of its least significant bit, and its width. Two-word fields
// (IPv6 addresses) start at Word and use Shift 0. Trie marks fields whose
// values are usable as prefix-trie keys.
type Field struct {
	Name  string
	Word  int
	Shift uint
	Bits  int
	Words int
	Trie  bool
}

// Fields is the field metadata table, indexed by FieldID.
var Fields = [NumFields]Field{
	FieldMetadata: {Name: "metadata", Word: 0, Shift: 0, Bits: 64, Words: 1},
	FieldInPort:   {Name: "in_port", Word: 1, Shift: 32, Bits: 32, Words: 1},
	FieldConjID:   {Name: "conj_id", Word: 1, Shift: 0, Bits: 32, Words: 1},
	FieldEthSrc:   {Name: "eth_src", Word: 2, Shift: 0, Bits: 48, Words: 1},
	FieldEthDst:   {Name: "eth_dst", Word: 3, Shift: 0, Bits: 48, Words: 1},
	FieldEthType:  {Name: "eth_type", Word: 4, Shift: 16, Bits: 16, Words: 1},
	FieldVLANTCI:  {Name: "vlan_tci", Word: 4, Shift: 0, Bits: 16, Words: 1},
	FieldIPv4Src:  {Name: "ip_src", Word: 5, Shift: 32, Bits: 32, Words: 1, Trie: true},
	FieldIPv4Dst:  {Name: "ip_dst", Word: 5, Shift: 0, Bits: 32, Words: 1, Trie: true},
	FieldIPv6Src:  {Name: "ipv6_src", Word: 6, Shift: 0, Bits: 128, Words: 2, Trie: true},
	FieldIPv6Dst:  {Name: "ipv6_dst", Word: 8, Shift: 0, Bits: 128, Words: 2, Trie: true},
	FieldIPProto:  {Name: "ip_proto", Word: 10, Shift: 8, Bits: 8, Words: 1},
	FieldIPTOS:    {Name: "ip_tos", Word: 10, Shift: 0, Bits: 8, Words: 1},
	FieldTPSrc:    {Name: "tp_src", Word: 11, Shift: 16, Bits: 16, Words: 1},
	FieldTPDst:    {Name: "tp_dst", Word: 11, Shift: 0, Bits: 16, Words: 1},
}

func (id FieldID) String() string {
	if id < 0 || int(id) >= NumFields {
		return "invalid"
	}
	return Fields[id].Name
}

// Valid reports whether id names a known field.
func (id FieldID) Valid() bool {
	return id >= 0 && int(id) < NumFields
}

// TrieCapable reports whether the field can key a prefix trie.
func (id FieldID) TrieCapable() bool {
	return id.Valid() && Fields[id].Trie
}

func fieldMask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}
