package query

// Midpoint interpolates halfway between the two middle values of an
// even-sized sorted set. The expression matches PostgreSQL's float8 lerp
// used by percentile_cont, so both backends agree bit for bit.
func Midpoint(lo, hi float64) float64 {
	return lo + (hi-lo)*0.5
}

// MedianOffsets returns the zero-based OFFSET and LIMIT of the middle value
// (odd n) or the middle pair (even n) in an ascending scan over n values.
func MedianOffsets(n int64) (offset, limit int64) {
	if n%2 == 1 {
		return n / 2, 1
	}
	return n/2 - 1, 2
}

// MedianOf computes the median from the values returned by the scan.
func MedianOf(values []float64) (float64, bool) {
	switch len(values) {
	case 0:
		return 0, false
	case 1:
		return values[0], true
	default:
		return Midpoint(values[0], values[1]), true
	}
}
