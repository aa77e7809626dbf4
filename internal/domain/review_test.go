package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundedMean(t *testing.T) {
	cases := []struct {
		sum, n int
		want   float64
	}{
		{0, 0, 0},
		{9, 2, 4.5},
		{13, 3, 4.33},
		{5, 3, 1.67},
		{41, 40, 1.03},
		{51, 40, 1.28},
		{87, 40, 2.18},
		{200, 40, 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundedMean(tc.sum, tc.n), "%d/%d", tc.sum, tc.n)
	}
}
