package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/stretchr/testify/require"
)

func TestProperty(t *testing.T) {
	// Each kind reads back through its own accessor only
	p := astifilter.UintProperty(42)
	require.Equal(t, astifilter.PropertyKindUint, p.Kind())
	u, ok := p.Uint()
	require.True(t, ok)
	require.Equal(t, uint64(42), u)
	_, ok = p.Int()
	require.False(t, ok)
	require.Equal(t, "42", p.String())

	p = astifilter.IntProperty(-42)
	i, ok := p.Int()
	require.True(t, ok)
	require.Equal(t, int64(-42), i)
	require.Equal(t, "-42", p.String())

	p = astifilter.FracProperty(30000, 1001)
	f, ok := p.Frac()
	require.True(t, ok)
	require.Equal(t, astifilter.Fraction{Num: 30000, Den: 1001}, f)
	require.Equal(t, "30000/1001", p.String())

	p = astifilter.DoubleProperty(1.5)
	d, ok := p.Double()
	require.True(t, ok)
	require.Equal(t, 1.5, d)

	p = astifilter.BoolProperty(true)
	b, ok := p.Bool()
	require.True(t, ok)
	require.True(t, b)

	p = astifilter.StringProperty("mp4")
	s, ok := p.Str()
	require.True(t, ok)
	require.Equal(t, "mp4", s)
	require.Equal(t, "mp4", p.String())

	p = astifilter.FourCCProperty(astifilter.NewFourCC("avc1"))
	cc, ok := p.FourCC()
	require.True(t, ok)
	require.Equal(t, "avc1", cc.String())

	require.True(t, astifilter.Null.IsNull())
	require.Equal(t, "null", astifilter.Null.String())
}

func TestPropertyBytesAreCopied(t *testing.T) {
	bs := []byte{1, 2, 3}
	p := astifilter.BytesProperty(bs)
	bs[0] = 4
	got, ok := p.Bytes()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, got)
}

func TestPropertyEqual(t *testing.T) {
	require.True(t, astifilter.UintProperty(1).Equal(astifilter.UintProperty(1)))
	require.False(t, astifilter.UintProperty(1).Equal(astifilter.UintProperty(2)))
	// Same numeric value, different kinds
	require.False(t, astifilter.UintProperty(1).Equal(astifilter.IntProperty(1)))
	require.True(t, astifilter.BytesProperty([]byte{1, 2}).Equal(astifilter.BytesProperty([]byte{1, 2})))
	require.False(t, astifilter.BytesProperty([]byte{1, 2}).Equal(astifilter.BytesProperty([]byte{1, 3})))
	require.True(t, astifilter.Null.Equal(astifilter.Property{}))
}

func TestProperties(t *testing.T) {
	ps := astifilter.NewProperties()
	ps.Set(astifilter.PropertyKeyWidth, astifilter.UintProperty(1920))
	ps.Set(astifilter.PropertyKeyHeight, astifilter.UintProperty(1080))
	ps.Set(astifilter.PropertyKeyMIME, astifilter.StringProperty("video/mpeg"))
	require.Equal(t, 3, ps.Len())

	// Insertion order is preserved
	require.Equal(t, []astifilter.PropertyKey{
		astifilter.PropertyKeyWidth,
		astifilter.PropertyKeyHeight,
		astifilter.PropertyKeyMIME,
	}, ps.Keys())

	// Overwriting doesn't reorder
	ps.Set(astifilter.PropertyKeyWidth, astifilter.UintProperty(1280))
	require.Equal(t, []astifilter.PropertyKey{
		astifilter.PropertyKeyWidth,
		astifilter.PropertyKeyHeight,
		astifilter.PropertyKeyMIME,
	}, ps.Keys())
	v, ok := ps.Get(astifilter.PropertyKeyWidth)
	require.True(t, ok)
	u, _ := v.Uint()
	require.Equal(t, uint64(1280), u)

	// Null removes
	ps.Set(astifilter.PropertyKeyHeight, astifilter.Null)
	_, ok = ps.Get(astifilter.PropertyKeyHeight)
	require.False(t, ok)
	require.Equal(t, 2, ps.Len())

	// Clone is independent
	c := ps.Clone()
	c.Set(astifilter.PropertyKeyWidth, astifilter.UintProperty(640))
	v, _ = ps.Get(astifilter.PropertyKeyWidth)
	u, _ = v.Uint()
	require.Equal(t, uint64(1280), u)

	// Range respects order and early exit
	var ks []astifilter.PropertyKey
	ps.Range(func(k astifilter.PropertyKey, p astifilter.Property) bool {
		ks = append(ks, k)
		return false
	})
	require.Equal(t, []astifilter.PropertyKey{astifilter.PropertyKeyWidth}, ks)
}
