// Package utils contains small numeric helpers shared by the planning packages.
package utils

import (
	"math"
)

// DefaultEpsilon is the tolerance used by the almost-equal helpers.
const DefaultEpsilon = 1e-6

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Float64AlmostEqual compares two floats with an absolute tolerance.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// Square returns n*n.
func Square(n float64) float64 {
	return n * n
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ClampInt limits n to [lo, hi].
func ClampInt(n, lo, hi int) int {
	return MaxInt(lo, MinInt(n, hi))
}

// Binomial returns n choose k as a float. It returns 0 when k is outside [0, n].
func Binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	ret := 1.
	for i := 1; i <= k; i++ {
		ret = ret * float64(n-k+i) / float64(i)
	}
	return ret
}

// Cosine eases phi in [0, 1] with a half cosine so that the derivative vanishes at both ends.
func Cosine(phi float64) float64 {
	return .5 * (1. - math.Cos(math.Pi*phi))
}
