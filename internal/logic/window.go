package logic

import "math"

// RequiredRun returns the length of the contiguous positive run a window of n
// samples must contain to fire: floor(n * fraction).
//
// Small windows can yield 0, which Satisfied treats as already reached.
func RequiredRun(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(float64(n) * fraction))
}

// LongestRun returns the length of the longest run of consecutive true values.
func LongestRun(samples []bool) int {
	longest, run := 0, 0
	for _, ok := range samples {
		if !ok {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}

// Satisfied reports whether samples contain a contiguous run of positives of at
// least RequiredRun(len(samples), fraction). Scattered positives do not count:
// [T,F,T,F,...] never fires a window whose required run is above 1.
func Satisfied(samples []bool, fraction float64) bool {
	required := RequiredRun(len(samples), fraction)
	if required == 0 {
		return true
	}
	run := 0
	for _, ok := range samples {
		if !ok {
			run = 0
			continue
		}
		run++
		if run >= required {
			return true
		}
	}
	return false
}

// PositiveFraction returns the share of true values in samples, 0 when empty.
func PositiveFraction(samples []bool) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := 0
	for _, ok := range samples {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}
