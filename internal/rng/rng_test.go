package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDeterminism(t *testing.T) {
	f := NewFactory(42)
	a := f.Stream("loan_gen/green")
	b := f.Stream("loan_gen/green")

	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64(), "same name must yield identical draws")
	}
}

func TestStreamIndependence(t *testing.T) {
	f := NewFactory(42)
	a := f.Stream("loan_gen/green")
	b := f.Stream("loan_gen/orange")

	same := 0
	for i := 0; i < 100; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	assert.Zero(t, same, "distinct names must not share draws")
}

func TestDeriveSeedDistinctPerPath(t *testing.T) {
	seen := make(map[uint64]bool)
	for p := 0; p < 1000; p++ {
		s := DeriveSeed(7, p)
		require.False(t, seen[s], "path %d collided", p)
		seen[s] = true
	}
}

func TestTruncNormalBounds(t *testing.T) {
	r := NewFactory(1).Stream("test")
	for i := 0; i < 10000; i++ {
		v := TruncNormal(r, 250000, 100000, 50000, 500000)
		assert.GreaterOrEqual(t, v, 50000.0)
		assert.LessOrEqual(t, v, 500000.0)
	}
}

func TestTruncNormalZeroStd(t *testing.T) {
	r := NewFactory(1).Stream("test")
	assert.Equal(t, 5.0, TruncNormal(r, 5, 0, 0, 10))
	assert.Equal(t, 10.0, TruncNormal(r, 15, 0, 0, 10))
	assert.Equal(t, 0.0, TruncNormal(r, -5, 0, 0, 10))
}

func TestCategorical(t *testing.T) {
	r := NewFactory(3).Stream("cat")

	t.Run("all zero weights", func(t *testing.T) {
		assert.Equal(t, -1, Categorical(r, []float64{0, 0, 0}))
	})

	t.Run("single positive weight always wins", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			assert.Equal(t, 1, Categorical(r, []float64{0, 3.5, 0}))
		}
	})

	t.Run("frequencies roughly match weights", func(t *testing.T) {
		counts := make([]int, 3)
		n := 30000
		for i := 0; i < n; i++ {
			idx := Categorical(r, []float64{1, 2, 1})
			counts[idx]++
		}
		assert.InDelta(t, 0.25, float64(counts[0])/float64(n), 0.02)
		assert.InDelta(t, 0.50, float64(counts[1])/float64(n), 0.02)
		assert.InDelta(t, 0.25, float64(counts[2])/float64(n), 0.02)
	})
}

func TestBernoulliEdges(t *testing.T) {
	r := NewFactory(9).Stream("bern")
	assert.False(t, Bernoulli(r, 0))
	assert.False(t, Bernoulli(r, -1))
	assert.True(t, Bernoulli(r, 1))
	assert.True(t, Bernoulli(r, 2))
}
