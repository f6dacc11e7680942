package astifilter

import (
	"fmt"
	"strconv"
)

type PropertyKind uint32

const (
	PropertyKindNull PropertyKind = iota
	PropertyKindUint
	PropertyKindInt
	PropertyKindFrac
	PropertyKindDouble
	PropertyKindBool
	PropertyKindString
	PropertyKindBytes
	PropertyKindFourCC
)

func (k PropertyKind) String() string {
	switch k {
	case PropertyKindUint:
		return "uint"
	case PropertyKindInt:
		return "int"
	case PropertyKindFrac:
		return "frac"
	case PropertyKindDouble:
		return "double"
	case PropertyKindBool:
		return "bool"
	case PropertyKindString:
		return "string"
	case PropertyKindBytes:
		return "bytes"
	case PropertyKindFourCC:
		return "fourcc"
	default:
		return "null"
	}
}

type Fraction struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

type FourCC uint32

func NewFourCC(s string) FourCC {
	var c FourCC
	for i := 0; i < 4 && i < len(s); i++ {
		c = c<<8 | FourCC(s[i])
	}
	return c
}

func (c FourCC) String() string {
	return string([]byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)})
}

// Property is a closed tagged union. Values never coerce between kinds: a
// property stored as an uint can only be read back as an uint.
type Property struct {
	b  bool
	bs []byte
	cc FourCC
	d  float64
	f  Fraction
	i  int64
	k  PropertyKind
	s  string
	u  uint64
}

// Null is the null property. Setting a pin property to Null removes it.
var Null = Property{}

func UintProperty(v uint64) Property { return Property{k: PropertyKindUint, u: v} }

func IntProperty(v int64) Property { return Property{k: PropertyKindInt, i: v} }

func FracProperty(num, den int64) Property {
	return Property{k: PropertyKindFrac, f: Fraction{Num: num, Den: den}}
}

func DoubleProperty(v float64) Property { return Property{k: PropertyKindDouble, d: v} }

func BoolProperty(v bool) Property { return Property{k: PropertyKindBool, b: v} }

func StringProperty(v string) Property { return Property{k: PropertyKindString, s: v} }

func FourCCProperty(v FourCC) Property { return Property{k: PropertyKindFourCC, cc: v} }

func BytesProperty(v []byte) Property {
	bs := make([]byte, len(v))
	copy(bs, v)
	return Property{k: PropertyKindBytes, bs: bs}
}

func (p Property) Kind() PropertyKind { return p.k }

func (p Property) IsNull() bool { return p.k == PropertyKindNull }

func (p Property) Uint() (uint64, bool) {
	if p.k != PropertyKindUint {
		return 0, false
	}
	return p.u, true
}

func (p Property) Int() (int64, bool) {
	if p.k != PropertyKindInt {
		return 0, false
	}
	return p.i, true
}

func (p Property) Frac() (Fraction, bool) {
	if p.k != PropertyKindFrac {
		return Fraction{}, false
	}
	return p.f, true
}

func (p Property) Double() (float64, bool) {
	if p.k != PropertyKindDouble {
		return 0, false
	}
	return p.d, true
}

func (p Property) Bool() (bool, bool) {
	if p.k != PropertyKindBool {
		return false, false
	}
	return p.b, true
}

func (p Property) String() string {
	switch p.k {
	case PropertyKindUint:
		return strconv.FormatUint(p.u, 10)
	case PropertyKindInt:
		return strconv.FormatInt(p.i, 10)
	case PropertyKindFrac:
		return fmt.Sprintf("%d/%d", p.f.Num, p.f.Den)
	case PropertyKindDouble:
		return strconv.FormatFloat(p.d, 'f', -1, 64)
	case PropertyKindBool:
		return strconv.FormatBool(p.b)
	case PropertyKindString:
		return p.s
	case PropertyKindBytes:
		return fmt.Sprintf("bytes(%d)", len(p.bs))
	case PropertyKindFourCC:
		return p.cc.String()
	default:
		return "null"
	}
}

func (p Property) Str() (string, bool) {
	if p.k != PropertyKindString {
		return "", false
	}
	return p.s, true
}

func (p Property) Bytes() ([]byte, bool) {
	if p.k != PropertyKindBytes {
		return nil, false
	}
	return p.bs, true
}

func (p Property) FourCC() (FourCC, bool) {
	if p.k != PropertyKindFourCC {
		return 0, false
	}
	return p.cc, true
}

func (p Property) Equal(i Property) bool {
	if p.k != i.k {
		return false
	}
	switch p.k {
	case PropertyKindUint:
		return p.u == i.u
	case PropertyKindInt:
		return p.i == i.i
	case PropertyKindFrac:
		return p.f == i.f
	case PropertyKindDouble:
		return p.d == i.d
	case PropertyKindBool:
		return p.b == i.b
	case PropertyKindString:
		return p.s == i.s
	case PropertyKindBytes:
		if len(p.bs) != len(i.bs) {
			return false
		}
		for idx := range p.bs {
			if p.bs[idx] != i.bs[idx] {
				return false
			}
		}
		return true
	case PropertyKindFourCC:
		return p.cc == i.cc
	default:
		return true
	}
}

type PropertyKey string

const (
	PropertyKeyAudioFormat PropertyKey = "audio_format"
	PropertyKeyAudioSkip   PropertyKey = "audio_skip"
	PropertyKeyBitrate     PropertyKey = "bitrate"
	PropertyKeyChannels    PropertyKey = "channels"
	PropertyKeyClockID     PropertyKey = "clock_id"
	PropertyKeyCodecID     PropertyKey = "codec_id"
	PropertyKeyDuration    PropertyKey = "duration"
	PropertyKeyFileExt     PropertyKey = "file_ext"
	PropertyKeyFilePath    PropertyKey = "file_path"
	PropertyKeyFPS         PropertyKey = "fps"
	PropertyKeyHeight      PropertyKey = "height"
	PropertyKeyID          PropertyKey = "id"
	PropertyKeyMIME        PropertyKey = "mime"
	PropertyKeyPixelFormat PropertyKey = "pixel_format"
	PropertyKeySampleRate  PropertyKey = "sample_rate"
	PropertyKeySAR         PropertyKey = "sar"
	PropertyKeyStreamType  PropertyKey = "stream_type"
	PropertyKeyStride      PropertyKey = "stride"
	PropertyKeyStrideUV    PropertyKey = "stride_uv"
	PropertyKeyTimescale   PropertyKey = "timescale"
	PropertyKeyWidth       PropertyKey = "width"
)

const (
	StreamTypeVideo uint64 = iota + 1
	StreamTypeAudio
	StreamTypeScene
	StreamTypeText
	StreamTypeFile
)

// CodecIDRaw labels uncompressed streams, the only codec encoders accept.
const CodecIDRaw uint64 = 1

// Properties is an ordered mapping from key to property. A set holds at most
// one value per key.
type Properties struct {
	ks []PropertyKey
	m  map[PropertyKey]Property
}

func NewProperties() *Properties {
	return &Properties{m: make(map[PropertyKey]Property)}
}

func (ps *Properties) Set(k PropertyKey, p Property) {
	// Null removes
	if p.IsNull() {
		ps.Del(k)
		return
	}

	// New key
	if _, ok := ps.m[k]; !ok {
		ps.ks = append(ps.ks, k)
	}

	// Store
	ps.m[k] = p
}

func (ps *Properties) Get(k PropertyKey) (Property, bool) {
	p, ok := ps.m[k]
	return p, ok
}

func (ps *Properties) Del(k PropertyKey) {
	if _, ok := ps.m[k]; !ok {
		return
	}
	delete(ps.m, k)
	for idx := 0; idx < len(ps.ks); idx++ {
		if ps.ks[idx] == k {
			ps.ks = append(ps.ks[:idx], ps.ks[idx+1:]...)
			idx--
		}
	}
}

func (ps *Properties) Len() int {
	return len(ps.m)
}

func (ps *Properties) Keys() []PropertyKey {
	ks := make([]PropertyKey, len(ps.ks))
	copy(ks, ps.ks)
	return ks
}

func (ps *Properties) Range(fn func(k PropertyKey, p Property) bool) {
	for _, k := range ps.ks {
		if !fn(k, ps.m[k]) {
			return
		}
	}
}

func (ps *Properties) Clone() *Properties {
	dst := NewProperties()
	for _, k := range ps.ks {
		dst.Set(k, ps.m[k])
	}
	return dst
}
