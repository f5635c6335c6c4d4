package nn

import "github.com/chewxy/math32"

// MaxAbsDiff returns the largest elementwise |a[i]-b[i]|. Slices of different
// length compare as +Inf.
func MaxAbsDiff(a, b []float32) float32 {
	if len(a) != len(b) {
		return math32.Inf(1)
	}
	var worst float32
	for i := range a {
		worst = math32.Max(worst, math32.Abs(a[i]-b[i]))
	}
	return worst
}
