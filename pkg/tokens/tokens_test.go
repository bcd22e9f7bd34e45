package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char rounds up", "a", 1},
		{"exact multiple", "abcd", 1},
		{"five chars rounds up", "abcde", 2},
		{"thousand chars", strings.Repeat("x", 1000), 250},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Estimate(tc.text))
		})
	}
}

func TestEstimateSubadditivity(t *testing.T) {
	// Summing per-chunk estimates never undercounts the concatenation; budget
	// accounting built on chunk sums stays a safe upper bound.
	chunks := []string{"alpha", "be", "gamma gamma", "", "d"}
	sum := 0
	var joined strings.Builder
	for _, chunk := range chunks {
		sum += Estimate(chunk)
		joined.WriteString(chunk)
	}
	assert.GreaterOrEqual(t, sum, Estimate(joined.String()))
}

func TestCharEstimator(t *testing.T) {
	var e CharEstimator
	assert.Equal(t, Estimate("hello world"), e.Count("hello world"))
}
