package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// samples builds a window from a compact string: 'T' is true, anything else false.
func samples(s string) []bool {
	out := make([]bool, len(s))
	for i, c := range s {
		out[i] = c == 'T'
	}
	return out
}

func TestRequiredRun(t *testing.T) {
	tests := []struct {
		n        int
		fraction float64
		want     int
	}{
		{0, 0.8, 0},
		{1, 0.5, 0},
		{1, 0.8, 0},
		{1, 1.0, 1},
		{2, 0.5, 1},
		{10, 0.8, 8},
		{10, 0.0, 0},
		{10, 1.0, 10},
		{7, 0.8, 5},
		{-3, 0.8, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequiredRun(tt.n, tt.fraction), "n=%d fraction=%v", tt.n, tt.fraction)
	}
}

func TestLongestRun(t *testing.T) {
	assert.Equal(t, 0, LongestRun(nil))
	assert.Equal(t, 0, LongestRun(samples("FFF")))
	assert.Equal(t, 3, LongestRun(samples("TTTFT")))
	assert.Equal(t, 4, LongestRun(samples("TFTTTT")))
	assert.Equal(t, 1, LongestRun(samples("TFTFTF")))
}

func TestSatisfiedFragmentedRunDoesNotFire(t *testing.T) {
	// 10 samples at 0.8 need a run of 8; the longest run is 5.
	assert.False(t, Satisfied(samples("TTTTTFFFFF"), 0.8))
}

func TestSatisfiedRunReachesThreshold(t *testing.T) {
	assert.True(t, Satisfied(samples("TTTTTTTTFF"), 0.8))
}

func TestSatisfiedRunAtEnd(t *testing.T) {
	assert.True(t, Satisfied(samples("FFTTTTTTTT"), 0.8))
}

func TestSatisfiedHighFractionButScattered(t *testing.T) {
	// 80% positive overall, but never 8 in a row.
	assert.False(t, Satisfied(samples("TTTTFTTTTF"), 0.8))
}

func TestSatisfiedZeroRequiredRun(t *testing.T) {
	// floor(n*fraction) == 0 is trivially reached, even with no positives.
	assert.True(t, Satisfied(nil, 0.8))
	assert.True(t, Satisfied(samples("T"), 0.5))
	assert.True(t, Satisfied(samples("F"), 0.5))
	assert.True(t, Satisfied(samples("FFFF"), 0.0))
}

func TestSatisfiedFullFraction(t *testing.T) {
	assert.True(t, Satisfied(samples("TTTT"), 1.0))
	assert.False(t, Satisfied(samples("TTTF"), 1.0))
}

func TestPositiveFraction(t *testing.T) {
	assert.Equal(t, 0.0, PositiveFraction(nil))
	assert.InDelta(t, 0.5, PositiveFraction(samples("TFTF")), 1e-9)
	assert.InDelta(t, 1.0, PositiveFraction(samples("TTT")), 1e-9)
}

func TestProgress(t *testing.T) {
	p := Progress{Completed: 1, Total: 3}
	assert.False(t, p.IsCompleted())
	assert.Equal(t, 2, p.Remaining())

	p.Completed = 3
	assert.True(t, p.IsCompleted())
	assert.Equal(t, 0, p.Remaining())

	// A zero target is complete from the start.
	assert.True(t, Progress{}.IsCompleted())
}

func TestCountsAdd(t *testing.T) {
	a := Counts{Reports: 1, Dropped: 2, Ticks: 3, Captures: 4, Sessions: 5}
	b := Counts{Reports: 10, Dropped: 20, Ticks: 30, Captures: 40, Sessions: 50}
	assert.Equal(t, Counts{Reports: 11, Dropped: 22, Ticks: 33, Captures: 44, Sessions: 55}, a.Add(b))
}
