package flow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowFields(t *testing.T) {
	var f Flow

	f.SetMetadata(0xdeadbeef)
	f.SetInPort(42)
	f.SetConjID(7)
	f.SetEthSrc(0x0000aabbccddeeff)
	f.SetEthType(0x0800)
	f.SetVLANTCI(0x1234)
	f.SetIPProto(6)
	f.SetIPTOS(0x2e)
	f.SetTPSrc(1234)
	f.SetTPDst(80)

	assert.Equal(t, uint64(0xdeadbeef), f.Metadata())
	assert.Equal(t, uint64(42), f.Field(FieldInPort))
	assert.Equal(t, uint32(7), f.ConjID())
	assert.Equal(t, uint64(0x0000aabbccddeeff), f.Field(FieldEthSrc))
	assert.Equal(t, uint64(0x0800), f.Field(FieldEthType))
	assert.Equal(t, uint64(0x1234), f.Field(FieldVLANTCI))
	assert.Equal(t, uint64(6), f.Field(FieldIPProto))
	assert.Equal(t, uint64(0x2e), f.Field(FieldIPTOS))
	assert.Equal(t, uint64(1234), f.Field(FieldTPSrc))
	assert.Equal(t, uint64(80), f.Field(FieldTPDst))

	// Shared-word fields do not clobber each other.
	f.SetConjID(0)
	assert.Equal(t, uint64(42), f.Field(FieldInPort))
	f.SetTPSrc(0)
	assert.Equal(t, uint64(80), f.Field(FieldTPDst))
}

func TestFlowAddresses(t *testing.T) {
	var f Flow
	f.SetIPv4Src(netip.MustParseAddr("10.1.2.3"))
	f.SetIPv4Dst(netip.MustParseAddr("192.0.2.1"))
	assert.Equal(t, uint64(0x0a010203), f.Field(FieldIPv4Src))
	assert.Equal(t, uint64(0xc0000201), f.Field(FieldIPv4Dst))

	f.SetIPv6Src(netip.MustParseAddr("2001:db8::1"))
	v := f.Field128(FieldIPv6Src)
	assert.Equal(t, uint64(0x20010db800000000), v[0])
	assert.Equal(t, uint64(0x0000000000000001), v[1])
}

func TestPrefixKey(t *testing.T) {
	var f Flow
	f.SetIPv4Dst(netip.MustParseAddr("10.0.0.0"))
	w, n := f.PrefixKey(FieldIPv4Dst)
	assert.Equal(t, 32, n)
	// 0x0a000000 left-aligned in 64 bits.
	assert.Equal(t, uint64(0x0a00000000000000), w[0])

	f.SetIPv6Dst(netip.MustParseAddr("2001:db8::1"))
	w, n = f.PrefixKey(FieldIPv6Dst)
	assert.Equal(t, 128, n)
	assert.Equal(t, uint64(0x20010db800000000), w[0])
	assert.Equal(t, uint64(1), w[1])
}

func TestFieldTable(t *testing.T) {
	for id := FieldID(0); int(id) < NumFields; id++ {
		fd := Fields[id]
		assert.True(t, id.Valid())
		assert.NotEmpty(t, fd.Name)
		require.Less(t, fd.Word, NumWords)
		if fd.Words == 2 {
			assert.Equal(t, 128, fd.Bits)
			assert.Zero(t, fd.Shift)
		} else {
			assert.LessOrEqual(t, int(fd.Shift)+fd.Bits, 64)
		}
		assert.Equal(t, fd.Trie, id.TrieCapable())
	}
	assert.False(t, FieldID(NumFields).Valid())
}

func TestMiniflowCompression(t *testing.T) {
	var m Match
	m.SetEthDst(0xaabb)
	m.SetTPDst(443)
	mm := NewMinimatch(&m)

	mask := mm.Mask()
	assert.True(t, mask.Present(3))
	assert.True(t, mask.Present(11))
	assert.False(t, mask.Present(0))
	assert.Equal(t, uint64(0x0000ffffffffffff), mask.Get(3))
	assert.Zero(t, mask.Get(5))

	back := mask.Expand()
	assert.Equal(t, uint64(0x0000ffffffffffff), back.Word(3))

	clone := mask.Clone()
	assert.True(t, mask.Equal(clone))

	assert.True(t, mask.HasBitsInRange(2, 5))
	assert.False(t, mask.HasBitsInRange(4, 11))
}

func TestMiniflowCoveredBy(t *testing.T) {
	var narrow, wide Match
	narrow.SetEthDst(0xaabb)
	narrow.SetTPDst(443)
	wide.SetEthDst(0xaabb)

	n := NewMinimatch(&narrow).Mask()
	w := NewMinimatch(&wide).Mask()

	assert.True(t, w.CoveredBy(n))
	assert.False(t, n.CoveredBy(w))
	assert.True(t, n.CoveredBy(n))

	var zero Miniflow
	assert.True(t, zero.CoveredBy(n))
	assert.True(t, zero.IsZero())
}

func TestMatchesFlow(t *testing.T) {
	var m Match
	m.SetIPv4DstPrefix(netip.MustParseAddr("10.0.0.0"), 8)
	mm := NewMinimatch(&m)

	var f Flow
	f.SetIPv4Dst(netip.MustParseAddr("10.200.1.1"))
	assert.True(t, mm.MatchesFlow(&f))
	assert.True(t, MiniflowMatchesFlow(mm.Flow(), mm.Mask(), &f))

	f.SetIPv4Dst(netip.MustParseAddr("11.0.0.1"))
	assert.False(t, mm.MatchesFlow(&f))
	assert.False(t, MiniflowMatchesFlow(mm.Flow(), mm.Mask(), &f))
}

func TestStagedHashChaining(t *testing.T) {
	// The hash of a rule's masked values must equal the hash of a matching
	// flow under the rule's mask, stage by stage, for any split point.
	var m Match
	m.SetEthDst(0xaabbcc)
	m.SetIPv4Dst(netip.MustParseAddr("10.0.0.1"))
	m.SetTPDst(8080)
	mm := NewMinimatch(&m)

	var f Flow
	f.SetEthDst(0xaabbcc)
	f.SetIPv4Dst(netip.MustParseAddr("10.0.0.1"))
	f.SetTPDst(8080)
	f.SetInPort(99) // outside the mask; must not affect the hashes

	splits := [][]int{
		{NumWords},
		{5, NumWords},
		{2, 5, NumWords},
		{4, 6, 11, NumWords},
	}
	for _, split := range splits {
		var rb, fb uint32
		start := 0
		for _, end := range split {
			rh := mm.HashRange(start, end, &rb)
			fh := HashFlowRange(mm.Mask(), &f, start, end, &fb)
			assert.Equal(t, rh, fh, "range [%d,%d)", start, end)
			start = end
		}
	}

	// A full-range hash equals the final stage hash of any split.
	var b1, b2 uint32
	full := mm.HashRange(0, NumWords, &b1)
	mm.HashRange(0, 2, &b2)
	mm.HashRange(2, 5, &b2)
	assert.Equal(t, full, mm.HashRange(5, NumWords, &b2))
}

func TestEqualInMask(t *testing.T) {
	var a, b Match
	a.SetEthDst(0xaabb)
	a.SetTPDst(1)
	b.SetEthDst(0xaabb)
	b.SetTPDst(2)

	am := NewMinimatch(&a)
	bm := NewMinimatch(&b)

	var sel Match
	sel.SetEthDst(^uint64(0))
	selm := NewMinimatch(&sel)

	assert.True(t, EqualInMask(am.Flow(), bm.Flow(), selm.Mask()))
	assert.False(t, EqualInMask(am.Flow(), bm.Flow(), am.Mask()))
}

func TestFieldPrefixLen(t *testing.T) {
	tests := []struct {
		name string
		plen int
		want int
	}{
		{"Full", 32, 32},
		{"Slash24", 24, 24},
		{"Slash8", 8, 8},
		{"Zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Match
			m.SetIPv4DstPrefix(netip.MustParseAddr("255.255.255.255"), tt.plen)
			mm := NewMinimatch(&m)
			assert.Equal(t, tt.want, mm.Mask().FieldPrefixLen(FieldIPv4Dst))
		})
	}

	t.Run("NonPrefixMask", func(t *testing.T) {
		var m Match
		m.SetFieldMasked(FieldIPv4Dst, 0, 0x00ff00ff)
		mm := NewMinimatch(&m)
		assert.Zero(t, mm.Mask().FieldPrefixLen(FieldIPv4Dst))
	})

	t.Run("IPv6", func(t *testing.T) {
		var m Match
		m.SetIPv6DstPrefix(netip.MustParseAddr("2001:db8::"), 96)
		mm := NewMinimatch(&m)
		assert.Equal(t, 96, mm.Mask().FieldPrefixLen(FieldIPv6Dst))
	})
}

func TestMinimatchOverlaps(t *testing.T) {
	var a, b, c Match
	a.SetIPv4DstPrefix(netip.MustParseAddr("10.0.0.0"), 8)
	b.SetIPv4Dst(netip.MustParseAddr("10.1.2.3"))
	c.SetIPv4Dst(netip.MustParseAddr("11.1.2.3"))

	am, bm, cm := NewMinimatch(&a), NewMinimatch(&b), NewMinimatch(&c)
	assert.True(t, am.Overlaps(bm))
	assert.True(t, bm.Overlaps(am))
	assert.False(t, am.Overlaps(cm))

	// Disjoint fields always overlap.
	var d Match
	d.SetTPDst(80)
	assert.True(t, am.Overlaps(NewMinimatch(&d)))
}

func TestMatchString(t *testing.T) {
	var m Match
	assert.Equal(t, "catchall", m.String())

	m.SetTPDst(80)
	assert.Contains(t, m.String(), "tp_dst")

	mm := NewMinimatch(&m)
	assert.Contains(t, mm.String(), "tp_dst")
}

func TestWildcards(t *testing.T) {
	var wc Wildcards
	assert.True(t, wc.IsZero())

	var m Match
	m.SetEthDst(0xaabb)
	m.SetTPDst(443)
	mm := NewMinimatch(&m)

	wc.FoldMinimaskRange(mm.Mask(), 0, 5)
	assert.Equal(t, uint64(0x0000ffffffffffff), wc.FieldMask(FieldEthDst))
	assert.Zero(t, wc.FieldMask(FieldTPDst))

	wc.FoldMinimask(mm.Mask())
	assert.Equal(t, uint64(0xffff), wc.FieldMask(FieldTPDst))

	wc.Clear()
	assert.True(t, wc.IsZero())

	wc.SetFieldPrefix(FieldIPv4Dst, 9)
	assert.Equal(t, uint64(0xff800000), wc.FieldMask(FieldIPv4Dst))

	wc.SetFieldPrefix(FieldIPv6Src, 72)
	v := wc.Masks.Field128(FieldIPv6Src)
	assert.Equal(t, ^uint64(0), v[0])
	assert.Equal(t, uint64(0xff)<<56, v[1])
}

func TestMinimatchExpandRoundTrip(t *testing.T) {
	var m Match
	m.SetMetadata(5)
	m.SetIPv4SrcPrefix(netip.MustParseAddr("172.16.0.0"), 12)
	mm := NewMinimatch(&m)

	back := mm.Expand()
	assert.Equal(t, m.Flow, back.Flow)
	assert.Equal(t, m.Mask, back.Mask)
	assert.True(t, mm.Equal(NewMinimatch(&back)))
	assert.True(t, mm.Equal(mm.Clone()))
}
