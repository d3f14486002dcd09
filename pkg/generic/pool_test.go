package generic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	p := NewResettingPool(func() []int { return make([]int, 0, 8) }, func(s []int) []int { return s[:0] })
	s := p.Get()
	require.Empty(t, s)
	s = append(s, 1, 2, 3)
	p.Put(s)
	require.Empty(t, p.Get())
}

func TestGrow(t *testing.T) {
	buf := make([]float64, 2, 10)
	grown := Grow(buf, 6)
	require.Len(t, grown, 6)
	require.Equal(t, 10, cap(grown))

	grown = Grow(buf, 20)
	require.Len(t, grown, 20)
}
