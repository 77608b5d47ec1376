package wire

import (
	"fmt"
	"math"
)

// Fixed is the protocol's signed 24.8 fixed-point number. The core
// protocol has no floating point type; fractional coordinates travel
// as these.
type Fixed int32

func FixedInt(v int) Fixed {
	return Fixed(v << 8)
}

func FixedFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

// Int truncates toward negative infinity, matching the arithmetic
// shift.
func (f Fixed) Int() int {
	return int(f >> 8)
}

// Frac returns the low eight fractional bits.
func (f Fixed) Frac() int {
	return int(uint32(f) & 0xFF)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func (f Fixed) String() string {
	return fmt.Sprintf("%g", f.Float())
}
