package astifilter

import "math/bits"

type Rounding uint32

const (
	RoundingDown Rounding = iota
	RoundingNearest
	RoundingUp
)

// Rescale converts a timestamp expressed in src ticks per second to dst ticks
// per second using a 128bit intermediate so that precision is never lost
// before truncation. Both timescales must be > 0.
func Rescale(v int64, src, dst uint64) int64 {
	return RescaleRnd(v, src, dst, RoundingDown)
}

func RescaleRnd(v int64, src, dst uint64, r Rounding) int64 {
	// Extract sign
	neg := v < 0
	a := uint64(v)
	if neg {
		a = uint64(-v)
	}

	// Multiply first to avoid losing precision before truncation
	hi, lo := bits.Mul64(a, dst)

	// Rounding bias
	var bias uint64
	switch r {
	case RoundingNearest:
		bias = src / 2
	case RoundingUp:
		bias = src - 1
	}
	if bias > 0 {
		var carry uint64
		lo, carry = bits.Add64(lo, bias, 0)
		hi += carry
	}

	// Divide. The upper quotient word only matters when the result overflows
	// int64, which valid media timestamps never do.
	q, _ := bits.Div64(hi%src, lo, src)
	if neg {
		return -int64(q)
	}
	return int64(q)
}
