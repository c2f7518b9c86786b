package wire

// Fixed is a signed 24.8 fixed-point decimal, the protocol's only
// non-integer numeric type.
type Fixed int32

// FixedFromInt converts a whole number to Fixed.
func FixedFromInt(v int) Fixed {
	return Fixed(v << 8)
}

// FixedFromFloat converts a float64 to Fixed, truncating beyond 1/256.
func FixedFromFloat(v float64) Fixed {
	return Fixed(v * 256.0)
}

// Int returns the whole part, truncated toward negative infinity.
func (f Fixed) Int() int {
	return int(f >> 8)
}

// Float returns the value as a float64.
func (f Fixed) Float() float64 {
	return float64(f) / 256.0
}
